package main

import (
	"time"

	"github.com/horgh/config"
	"github.com/pkg/errors"
)

// Config holds a server's configuration. Every key is optional; the
// zero config runs a standalone server on localhost.
type Config struct {
	ListenHost string
	ListenPort string
	ServerName string
	ServerInfo string
	MOTD       string

	// Period of time to wait before waking the server up (maximum).
	WakeupTime time.Duration

	// Period of time a client can be idle before we send it a PING.
	PingTime time.Duration

	// Period of time a client can be idle before we consider it dead.
	DeadTime time.Duration

	// ACL file holding the I/C/N/O rules. Blank means no rules: any
	// client may register, no peer may link, no one may OPER.
	ACLFile string

	// Address to serve Prometheus metrics on. Blank disables the
	// endpoint.
	MetricsListen string

	// Address to accept WebSocket clients on. Blank disables the
	// listener.
	WSListen string

	LogLevel string
}

func defaultConfig() Config {
	return Config{
		ListenHost: "127.0.0.1",
		ListenPort: "6667",
		ServerName: "perch.localhost",
		ServerInfo: "perch IRC server",
		MOTD:       "perch is serving",
		WakeupTime: 10 * time.Second,
		PingTime:   30 * time.Second,
		DeadTime:   240 * time.Second,
		LogLevel:   "info",
	}
}

// checkAndParseConfig loads the settings file, if one was given, over
// the defaults.
//
// We parse some values into alternate representations.
func checkAndParseConfig(file string) (Config, error) {
	cfg := defaultConfig()

	if file == "" {
		return cfg, nil
	}

	configMap, err := config.ReadStringMap(file)
	if err != nil {
		return Config{}, errors.Wrap(err, "error reading config")
	}

	stringKeys := map[string]*string{
		"listen-host":    &cfg.ListenHost,
		"listen-port":    &cfg.ListenPort,
		"server-name":    &cfg.ServerName,
		"server-info":    &cfg.ServerInfo,
		"motd":           &cfg.MOTD,
		"acl-file":       &cfg.ACLFile,
		"metrics-listen": &cfg.MetricsListen,
		"ws-listen":      &cfg.WSListen,
		"log-level":      &cfg.LogLevel,
	}

	for key, target := range stringKeys {
		if v, exists := configMap[key]; exists && len(v) > 0 {
			*target = v
		}
	}

	durationKeys := map[string]*time.Duration{
		"wakeup-time": &cfg.WakeupTime,
		"ping-time":   &cfg.PingTime,
		"dead-time":   &cfg.DeadTime,
	}

	for key, target := range durationKeys {
		v, exists := configMap[key]
		if !exists || len(v) == 0 {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "%s is in invalid format", key)
		}
		*target = d
	}

	return cfg, nil
}
