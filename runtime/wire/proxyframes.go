package wire

// ProxyRequest is the proxy-client -> proxy-server frame body (spec
// §4.5, grounded in ToolProxyFrames.cpp's ToolProxyRequest): a raw
// local invocation exactly as the build driver would have run it,
// plus the working directory the proxy server must chdir into before
// splitting and running it (original_source: "we assume that proxy
// server is used to build only one working directory at once").
type ProxyRequest struct {
	ToolId    string
	Args      []string
	Cwd       string
	RequestId string
}

// Encode renders the ProxyRequest body.
func (p ProxyRequest) Encode(order ByteOrder) []byte {
	w := NewWriter(order)
	w.PStr(p.ToolId)
	w.PStrVec(p.Args)
	w.PStr(p.Cwd)
	w.PStr(p.RequestId)
	return w.Bytes()
}

// DecodeProxyRequest parses a ProxyRequest body.
func DecodeProxyRequest(buf []byte, order ByteOrder) (ProxyRequest, error) {
	r := NewReader(buf, order)
	var p ProxyRequest
	var err error
	if p.ToolId, err = r.PStr(); err != nil {
		return p, err
	}
	if p.Args, err = r.PStrVec(); err != nil {
		return p, err
	}
	if p.Cwd, err = r.PStr(); err != nil {
		return p, err
	}
	if p.RequestId, err = r.PStr(); err != nil {
		return p, err
	}
	return p, nil
}

// ProxyResponse is the proxy-server -> proxy-client frame body
// (ToolProxyResponse): the local-or-remote compile's stdout and
// success flag, ready to forward to the build driver verbatim.
type ProxyResponse struct {
	Result bool
	Stdout string
}

// Encode renders the ProxyResponse body.
func (p ProxyResponse) Encode(order ByteOrder) []byte {
	w := NewWriter(order)
	w.Bool(p.Result)
	w.PStr(p.Stdout)
	return w.Bytes()
}

// DecodeProxyResponse parses a ProxyResponse body.
func DecodeProxyResponse(buf []byte, order ByteOrder) (ProxyResponse, error) {
	r := NewReader(buf, order)
	var p ProxyResponse
	var err error
	if p.Result, err = r.Bool(); err != nil {
		return p, err
	}
	if p.Stdout, err = r.PStr(); err != nil {
		return p, err
	}
	return p, nil
}
