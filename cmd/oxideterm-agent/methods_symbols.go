package main

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
)

type indexSymbolsParams struct {
	Root string `json:"root"`
	Ext  string `json:"ext"`
}

type symbol struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Line int    `json:"line"`
	Kind string `json:"kind"`
}

// symbolPattern is a deliberately loose regex-based indexer (spec
// §4.7 "regex-based indexing") covering common declaration shapes
// across several languages rather than a real per-language parser.
var symbolPattern = regexp.MustCompile(`^\s*(func|class|def|struct|type|fn)\s+([A-Za-z_][A-Za-z0-9_]*)`)

func registerSymbolMethods(s *server) {
	s.register("symbols/index", func(p json.RawMessage) (any, *rpcError) {
		var params indexSymbolsParams
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, errParams(err)
		}

		var out []symbol
		_ = filepath.WalkDir(params.Root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if params.Ext != "" && filepath.Ext(path) != params.Ext {
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
				if m := symbolPattern.FindStringSubmatch(scanner.Text()); m != nil {
					out = append(out, symbol{Name: m[2], Path: path, Line: lineNo, Kind: m[1]})
				}
			}
			return nil
		})
		return out, nil
	})
}
