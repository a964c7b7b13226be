package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type statParams struct {
	Path string `json:"path"`
}

type statResult struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Mode    uint32 `json:"mode"`
	IsDir   bool   `json:"is_dir"`
	ModTime int64  `json:"mod_time"`
}

type readFileParams struct {
	Path     string `json:"path"`
	Compress bool   `json:"compress"`
}

type readFileResult struct {
	Path       string `json:"path"`
	Hash       string `json:"hash"`
	Base64Data string `json:"data_base64"`
	Compressed bool   `json:"compressed"`
	Size       int64  `json:"size"`
}

type writeFileParams struct {
	Path       string `json:"path"`
	Base64Data string `json:"data_base64"`
	ExpectHash string `json:"expect_hash,omitempty"`
}

type listDirParams struct {
	Path string `json:"path"`
}

type dirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

type mkdirParams struct {
	Path string `json:"path"`
}

type removeParams struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

type renameParams struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type chmodParams struct {
	Path string `json:"path"`
	Mode uint32 `json:"mode"`
}

func registerFSMethods(s *server) {
	s.register("fs/stat", func(p json.RawMessage) (any, *rpcError) {
		var params statParams
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, errParams(err)
		}
		fi, err := os.Stat(params.Path)
		if os.IsNotExist(err) {
			return nil, errNotFound(params.Path)
		}
		if err != nil {
			return nil, errIO(err)
		}
		return statResult{
			Path: params.Path, Size: fi.Size(), Mode: uint32(fi.Mode()),
			IsDir: fi.IsDir(), ModTime: fi.ModTime().Unix(),
		}, nil
	})

	s.register("fs/readFile", func(p json.RawMessage) (any, *rpcError) {
		var params readFileParams
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, errParams(err)
		}
		raw, err := os.ReadFile(params.Path)
		if os.IsNotExist(err) {
			return nil, errNotFound(params.Path)
		}
		if err != nil {
			return nil, errIO(err)
		}
		sum := sha256.Sum256(raw)
		payload := raw
		compressed := false
		if params.Compress {
			var buf bytes.Buffer
			enc, encErr := zstd.NewWriter(&buf)
			if encErr == nil {
				if _, err := enc.Write(raw); err == nil {
					if err := enc.Close(); err == nil {
						payload = buf.Bytes()
						compressed = true
					}
				}
			}
		}
		return readFileResult{
			Path: params.Path, Hash: hex.EncodeToString(sum[:]),
			Base64Data: base64.StdEncoding.EncodeToString(payload),
			Compressed: compressed, Size: int64(len(raw)),
		}, nil
	})

	s.register("fs/writeFile", func(p json.RawMessage) (any, *rpcError) {
		var params writeFileParams
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, errParams(err)
		}
		data, err := base64.StdEncoding.DecodeString(params.Base64Data)
		if err != nil {
			return nil, errParams(err)
		}
		if params.ExpectHash != "" {
			if existing, readErr := os.ReadFile(params.Path); readErr == nil {
				sum := sha256.Sum256(existing)
				if hex.EncodeToString(sum[:]) != params.ExpectHash {
					return nil, errHashMismatch()
				}
			}
		}
		// Atomic write: tempfile in the same directory, then rename.
		dir := filepath.Dir(params.Path)
		tmp, err := os.CreateTemp(dir, ".oxideterm-write-*")
		if err != nil {
			return nil, errIO(err)
		}
		tmpPath := tmp.Name()
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return nil, errIO(err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpPath)
			return nil, errIO(err)
		}
		if err := os.Rename(tmpPath, params.Path); err != nil {
			os.Remove(tmpPath)
			return nil, errIO(err)
		}
		sum := sha256.Sum256(data)
		return map[string]string{"hash": hex.EncodeToString(sum[:])}, nil
	})

	s.register("fs/listDir", func(p json.RawMessage) (any, *rpcError) {
		var params listDirParams
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, errParams(err)
		}
		entries, err := os.ReadDir(params.Path)
		if err != nil {
			return nil, errIO(err)
		}
		out := make([]dirEntry, 0, len(entries))
		for _, e := range entries {
			info, err := e.Info()
			size := int64(0)
			if err == nil {
				size = info.Size()
			}
			out = append(out, dirEntry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
		}
		return out, nil
	})

	s.register("fs/listTree", func(p json.RawMessage) (any, *rpcError) {
		var params listDirParams
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, errParams(err)
		}
		var out []string
		err := filepath.WalkDir(params.Path, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			rel, relErr := filepath.Rel(params.Path, path)
			if relErr == nil && rel != "." {
				out = append(out, rel)
			}
			return nil
		})
		if err != nil {
			return nil, errIO(err)
		}
		return out, nil
	})

	s.register("fs/mkdir", func(p json.RawMessage) (any, *rpcError) {
		var params mkdirParams
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, errParams(err)
		}
		if err := os.MkdirAll(params.Path, 0o755); err != nil {
			return nil, errIO(err)
		}
		return map[string]bool{"ok": true}, nil
	})

	s.register("fs/remove", func(p json.RawMessage) (any, *rpcError) {
		var params removeParams
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, errParams(err)
		}
		var err error
		if params.Recursive {
			err = os.RemoveAll(params.Path)
		} else {
			err = os.Remove(params.Path)
		}
		if err != nil {
			return nil, errIO(err)
		}
		return map[string]bool{"ok": true}, nil
	})

	s.register("fs/rename", func(p json.RawMessage) (any, *rpcError) {
		var params renameParams
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, errParams(err)
		}
		if err := os.Rename(params.From, params.To); err != nil {
			return nil, errIO(err)
		}
		return map[string]bool{"ok": true}, nil
	})

	s.register("fs/chmod", func(p json.RawMessage) (any, *rpcError) {
		var params chmodParams
		if err := json.Unmarshal(p, &params); err != nil {
			return nil, errParams(err)
		}
		if err := os.Chmod(params.Path, os.FileMode(params.Mode)); err != nil {
			return nil, errPermission(err)
		}
		return map[string]bool{"ok": true}, nil
	})
}
