package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// file is the flat section->key->value view produced by parseINI,
// the shared substrate Load builds every typed section from. No
// third-party INI library appears anywhere in the retrieved example
// corpus, so this parser is hand-written stdlib (see DESIGN.md).
type file map[string]map[string]string

// parseINI reads a minimal INI dialect: "[section]" headers,
// "key = value" pairs, "#" and ";" full-line or trailing comments,
// blank lines ignored. Keys outside any section are rejected —
// spec §6's config file always opens with a section header.
func parseINI(r io.Reader) (file, error) {
	f := make(file)
	section := ""
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(stripComment(scanner.Text()))
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("config: line %d: unterminated section header %q", lineNo, line)
			}
			section = strings.TrimSpace(line[1 : len(line)-1])
			if _, ok := f[section]; !ok {
				f[section] = make(map[string]string)
			}
			continue
		}
		if section == "" {
			return nil, fmt.Errorf("config: line %d: key outside any [section]: %q", lineNo, line)
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, fmt.Errorf("config: line %d: expected key = value, got %q", lineNo, line)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		f[section][key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: scan: %w", err)
	}
	return f, nil
}

func stripComment(line string) string {
	for _, marker := range []string{"#", ";"} {
		if i := strings.Index(line, marker); i >= 0 {
			line = line[:i]
		}
	}
	return line
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(v))
	return b
}

func parseBoolDefault(section map[string]string, key string, fallback bool) bool {
	v, ok := section[key]
	if !ok {
		return fallback
	}
	return parseBool(v)
}

func parseInt(section map[string]string, key string, fallback int) int {
	v, ok := section[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(section map[string]string, key string, fallback float64) float64 {
	v, ok := section[key]
	if !ok {
		return fallback
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback
	}
	return n
}

func parseStr(section map[string]string, key, fallback string) string {
	if v, ok := section[key]; ok {
		return v
	}
	return fallback
}

// Load reads an INI-dialect config file (spec §6) into a resolved
// Config, starting from Default() so any section or key the file
// omits keeps its default.
func Load(r io.Reader) (Config, error) {
	f, err := parseINI(r)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	cfg.Tools = parseToolsSection(f["tools"])
	cfg.ToolClient = parseToolClientSection(f["toolClient"], cfg.ToolClient)
	cfg.ToolServer = parseToolServerSection(f["toolServer"], cfg.ToolServer)
	cfg.Coordinator = parseCoordinatorSection(f["coordinator"], cfg.Coordinator)
	cfg.Proxy = parseProxySection(f["proxy"], cfg.Proxy)
	cfg.Logging = parseLoggingSection(f["logging"], cfg.Logging)
	return cfg, nil
}

func parseToolsSection(section map[string]string) ToolsConfig {
	cfg := ToolsConfig{Tools: make(map[string]ToolConfig)}
	if section == nil {
		return cfg
	}
	cfg.ToolIds = splitList(section["toolIds"])
	cfg.DisableVersionChecks = parseBoolDefault(section, "disableVersionChecks", false)
	for _, id := range cfg.ToolIds {
		tc := ToolConfig{Id: id}
		if v, ok := section[id]; ok {
			tc.Executables = splitList(v)
		}
		tc.Type = section[id+"_type"]
		tc.Version = section[id+"_version"]
		tc.RemoteAlias = section[id+"_remoteAlias"]
		tc.AppendRemote = section[id+"_appendRemote"]
		tc.RemoveRemote = section[id+"_removeRemote"]
		cfg.Tools[id] = tc
	}
	return cfg
}

func parseToolClientSection(section map[string]string, base ToolClientConfig) ToolClientConfig {
	if section == nil {
		return base
	}
	return ToolClientConfig{
		InvocationAttempts: parseInt(section, "invocationAttempts", base.InvocationAttempts),
		MinimalRemoteTasks: parseInt(section, "minimalRemoteTasks", base.MinimalRemoteTasks),
		QueueTimeoutMS:     parseInt(section, "queueTimeoutMS", base.QueueTimeoutMS),
		RequestTimeoutMS:   parseInt(section, "requestTimeoutMS", base.RequestTimeoutMS),
		MaxLoadAverage:     parseFloat(section, "maxLoadAverage", base.MaxLoadAverage),
		CoordinatorHosts:   orDefaultList(splitList(section["coordinatorHosts"]), base.CoordinatorHosts),
		CoordinatorPort:    parseInt(section, "coordinatorPort", base.CoordinatorPort),
		SendInfoIntervalMS: parseInt(section, "sendInfoIntervalMS", base.SendInfoIntervalMS),
		CompressionType:    parseStr(section, "compressionType", base.CompressionType),
		CompressionLevel:   parseInt(section, "compressionLevel", base.CompressionLevel),
		ToolserverHosts:    orDefaultList(splitList(section["toolserverHosts"]), base.ToolserverHosts),
		ToolserverPort:     parseInt(section, "toolserverPort", base.ToolserverPort),
		ToolserverIds:      orDefaultList(splitList(section["toolserverIds"]), base.ToolserverIds),
	}
}

func parseToolServerSection(section map[string]string, base ToolServerConfig) ToolServerConfig {
	if section == nil {
		return base
	}
	return ToolServerConfig{
		ListenHost:           parseStr(section, "listenHost", base.ListenHost),
		ListenPort:           parseInt(section, "listenPort", base.ListenPort),
		ThreadCount:          parseInt(section, "threadCount", base.ThreadCount),
		ServerName:           parseStr(section, "serverName", base.ServerName),
		HostsWhiteList:       orDefaultList(splitList(section["hostsWhiteList"]), base.HostsWhiteList),
		UseClientCompression: parseBoolDefault(section, "useClientCompression", base.UseClientCompression),
		CoordinatorHosts:     orDefaultList(splitList(section["coordinatorHosts"]), base.CoordinatorHosts),
		CoordinatorPort:      parseInt(section, "coordinatorPort", base.CoordinatorPort),
		SendInfoIntervalMS:   parseInt(section, "sendInfoIntervalMS", base.SendInfoIntervalMS),
		CompressionType:      parseStr(section, "compressionType", base.CompressionType),
		CompressionLevel:     parseInt(section, "compressionLevel", base.CompressionLevel),
	}
}

func parseCoordinatorSection(section map[string]string, base CoordinatorConfig) CoordinatorConfig {
	if section == nil {
		return base
	}
	return CoordinatorConfig{
		ListenPort: parseInt(section, "listenPort", base.ListenPort),
	}
}

func parseProxySection(section map[string]string, base ProxyConfig) ProxyConfig {
	if section == nil {
		return base
	}
	return ProxyConfig{
		ListenPort:           parseInt(section, "listenPort", base.ListenPort),
		ToolId:               parseStr(section, "toolId", base.ToolId),
		ThreadCount:          parseInt(section, "threadCount", base.ThreadCount),
		ProxyClientTimeoutMS: parseInt(section, "proxyClientTimeoutMS", base.ProxyClientTimeoutMS),
		InactiveTimeoutMS:    parseInt(section, "inactiveTimeoutMS", base.InactiveTimeoutMS),
		StartCommand:         parseStr(section, "startCommand", base.StartCommand),
	}
}

func parseLoggingSection(section map[string]string, base LoggingConfig) LoggingConfig {
	if section == nil {
		return base
	}
	return LoggingConfig{
		LogLevel:          parseStr(section, "logLevel", base.LogLevel),
		LogToFile:         parseBoolDefault(section, "logToFile", base.LogToFile),
		LogToCerr:         parseBoolDefault(section, "logToCerr", base.LogToCerr),
		LogToSyslog:       parseBoolDefault(section, "logToSyslog", base.LogToSyslog),
		LogDir:            parseStr(section, "logDir", base.LogDir),
		OutputTimestamp:   parseBoolDefault(section, "outputTimestamp", base.OutputTimestamp),
		OutputTimeoffsets: parseBoolDefault(section, "outputTimeoffsets", base.OutputTimeoffsets),
	}
}

func orDefaultList(v, fallback []string) []string {
	if len(v) == 0 {
		return fallback
	}
	return v
}
