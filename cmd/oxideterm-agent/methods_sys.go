package main

import (
	"encoding/json"
	"os"
	"runtime"
)

// sysInfoResult is sys/info's result (spec §4.9: "Version, arch, os, pid,
// capability list").
type sysInfoResult struct {
	OS           string   `json:"os"`
	Arch         string   `json:"arch"`
	Version      string   `json:"version"`
	Hostname     string   `json:"hostname"`
	PID          int      `json:"pid"`
	Capabilities []string `json:"capabilities"`
}

func registerSysMethods(s *server) {
	s.register("sys/info", func(p json.RawMessage) (any, *rpcError) {
		host, _ := os.Hostname()
		return sysInfoResult{
			OS:           runtime.GOOS,
			Arch:         runtime.GOARCH,
			Version:      version,
			Hostname:     host,
			PID:          os.Getpid(),
			Capabilities: s.capabilities(),
		}, nil
	})

	s.register("sys/ping", func(p json.RawMessage) (any, *rpcError) {
		return map[string]string{"pong": version}, nil
	})

	s.register("sys/shutdown", func(p json.RawMessage) (any, *rpcError) {
		go func() {
			os.Exit(0)
		}()
		return map[string]bool{"ok": true}, nil
	})
}
