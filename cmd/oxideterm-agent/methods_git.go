package main

import (
	"bytes"
	"encoding/json"
	"os/exec"
)

type gitStatusParams struct {
	Root string `json:"root"`
}

type gitStatusResult struct {
	Branch string   `json:"branch"`
	Dirty  bool     `json:"dirty"`
	Files  []string `json:"files"`
}

func registerGitMethods(s *server) {
	s.register("git/status", func(p json.RawMessage) (any, *rpcError) {
		var params gitStatusParams
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, errParams(err)
		}

		branch, err := runGit(params.Root, "rev-parse", "--abbrev-ref", "HEAD")
		if err != nil {
			return nil, errIO(err)
		}

		porcelain, err := runGit(params.Root, "status", "--porcelain")
		if err != nil {
			return nil, errIO(err)
		}

		var files []string
		for _, line := range bytes.Split(bytes.TrimRight([]byte(porcelain), "\n"), []byte("\n")) {
			if len(line) > 3 {
				files = append(files, string(line[3:]))
			}
		}

		return gitStatusResult{Branch: branch, Dirty: len(files) > 0, Files: files}, nil
	})
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(out)), nil
}
