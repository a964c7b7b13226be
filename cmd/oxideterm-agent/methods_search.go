package main

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
)

type grepParams struct {
	Root       string `json:"root"`
	Pattern    string `json:"pattern"`
	MaxResults int    `json:"max_results"`
}

type grepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func registerSearchMethods(s *server) {
	s.register("search/grep", func(p json.RawMessage) (any, *rpcError) {
		var params grepParams
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, errParams(err)
		}
		re, err := regexp.Compile(params.Pattern)
		if err != nil {
			return nil, errParams(err)
		}
		max := params.MaxResults
		if max <= 0 {
			max = 1000
		}

		var matches []grepMatch
		_ = filepath.WalkDir(params.Root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() || len(matches) >= max {
				return nil
			}
			f, openErr := os.Open(path)
			if openErr != nil {
				return nil
			}
			defer f.Close()
			scanner := bufio.NewScanner(f)
			lineNo := 0
			for scanner.Scan() {
				lineNo++
				if re.MatchString(scanner.Text()) {
					matches = append(matches, grepMatch{Path: path, Line: lineNo, Text: scanner.Text()})
					if len(matches) >= max {
						break
					}
				}
			}
			return nil
		})
		return matches, nil
	})
}
