package config

import (
	"fmt"
	"strings"
)

// ApplyOverrides applies "--wuild-<group>-<key>=value" command-line
// flags over an already-Load'd Config, the second pass spec §6
// describes for ad-hoc overrides of a config file value. Unrecognized
// arguments are left untouched so callers can pass a full os.Args
// flag set through; unrecognized <group>-<key> pairs are an error so a
// typo doesn't silently no-op.
func ApplyOverrides(cfg *Config, args []string) error {
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--wuild-") {
			continue
		}
		rest := strings.TrimPrefix(arg, "--wuild-")
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			return fmt.Errorf("config: override %q missing =value", arg)
		}
		groupKey, value := rest[:eq], rest[eq+1:]
		dash := strings.IndexByte(groupKey, '-')
		if dash < 0 {
			return fmt.Errorf("config: override %q missing -key after group", arg)
		}
		group, key := groupKey[:dash], groupKey[dash+1:]
		if err := applyOverride(cfg, group, key, value); err != nil {
			return fmt.Errorf("config: override %q: %w", arg, err)
		}
	}
	return nil
}

func applyOverride(cfg *Config, group, key, value string) error {
	switch group {
	case "toolClient":
		return applyToolClientOverride(&cfg.ToolClient, key, value)
	case "toolServer":
		return applyToolServerOverride(&cfg.ToolServer, key, value)
	case "coordinator":
		return applyCoordinatorOverride(&cfg.Coordinator, key, value)
	case "proxy":
		return applyProxyOverride(&cfg.Proxy, key, value)
	case "logging":
		return applyLoggingOverride(&cfg.Logging, key, value)
	default:
		return fmt.Errorf("unknown group %q", group)
	}
}

func applyToolClientOverride(c *ToolClientConfig, key, value string) error {
	section := map[string]string{key: value}
	switch key {
	case "invocationAttempts":
		c.InvocationAttempts = parseInt(section, key, c.InvocationAttempts)
	case "minimalRemoteTasks":
		c.MinimalRemoteTasks = parseInt(section, key, c.MinimalRemoteTasks)
	case "queueTimeoutMS":
		c.QueueTimeoutMS = parseInt(section, key, c.QueueTimeoutMS)
	case "requestTimeoutMS":
		c.RequestTimeoutMS = parseInt(section, key, c.RequestTimeoutMS)
	case "maxLoadAverage":
		c.MaxLoadAverage = parseFloat(section, key, c.MaxLoadAverage)
	case "coordinatorHosts":
		c.CoordinatorHosts = splitList(value)
	case "coordinatorPort":
		c.CoordinatorPort = parseInt(section, key, c.CoordinatorPort)
	case "sendInfoIntervalMS":
		c.SendInfoIntervalMS = parseInt(section, key, c.SendInfoIntervalMS)
	case "compressionType":
		c.CompressionType = value
	case "compressionLevel":
		c.CompressionLevel = parseInt(section, key, c.CompressionLevel)
	case "toolserverHosts":
		c.ToolserverHosts = splitList(value)
	case "toolserverPort":
		c.ToolserverPort = parseInt(section, key, c.ToolserverPort)
	case "toolserverIds":
		c.ToolserverIds = splitList(value)
	default:
		return fmt.Errorf("unknown toolClient key %q", key)
	}
	return nil
}

func applyToolServerOverride(c *ToolServerConfig, key, value string) error {
	section := map[string]string{key: value}
	switch key {
	case "listenHost":
		c.ListenHost = value
	case "listenPort":
		c.ListenPort = parseInt(section, key, c.ListenPort)
	case "threadCount":
		c.ThreadCount = parseInt(section, key, c.ThreadCount)
	case "serverName":
		c.ServerName = value
	case "hostsWhiteList":
		c.HostsWhiteList = splitList(value)
	case "useClientCompression":
		c.UseClientCompression = parseBool(value)
	case "coordinatorHosts":
		c.CoordinatorHosts = splitList(value)
	case "coordinatorPort":
		c.CoordinatorPort = parseInt(section, key, c.CoordinatorPort)
	case "sendInfoIntervalMS":
		c.SendInfoIntervalMS = parseInt(section, key, c.SendInfoIntervalMS)
	case "compressionType":
		c.CompressionType = value
	case "compressionLevel":
		c.CompressionLevel = parseInt(section, key, c.CompressionLevel)
	default:
		return fmt.Errorf("unknown toolServer key %q", key)
	}
	return nil
}

func applyCoordinatorOverride(c *CoordinatorConfig, key, value string) error {
	switch key {
	case "listenPort":
		c.ListenPort = parseInt(map[string]string{key: value}, key, c.ListenPort)
	default:
		return fmt.Errorf("unknown coordinator key %q", key)
	}
	return nil
}

func applyProxyOverride(c *ProxyConfig, key, value string) error {
	section := map[string]string{key: value}
	switch key {
	case "listenPort":
		c.ListenPort = parseInt(section, key, c.ListenPort)
	case "toolId":
		c.ToolId = value
	case "threadCount":
		c.ThreadCount = parseInt(section, key, c.ThreadCount)
	case "proxyClientTimeoutMS":
		c.ProxyClientTimeoutMS = parseInt(section, key, c.ProxyClientTimeoutMS)
	case "inactiveTimeoutMS":
		c.InactiveTimeoutMS = parseInt(section, key, c.InactiveTimeoutMS)
	case "startCommand":
		c.StartCommand = value
	default:
		return fmt.Errorf("unknown proxy key %q", key)
	}
	return nil
}

func applyLoggingOverride(c *LoggingConfig, key, value string) error {
	switch key {
	case "logLevel":
		c.LogLevel = value
	case "logToFile":
		c.LogToFile = parseBool(value)
	case "logToCerr":
		c.LogToCerr = parseBool(value)
	case "logToSyslog":
		c.LogToSyslog = parseBool(value)
	case "logDir":
		c.LogDir = value
	case "outputTimestamp":
		c.OutputTimestamp = parseBool(value)
	case "outputTimeoffsets":
		c.OutputTimeoffsets = parseBool(value)
	default:
		return fmt.Errorf("unknown logging key %q", key)
	}
	return nil
}
