package batch

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrNoPrompts         = errors.New("no prompts found in file")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Item is one queued generation. An empty Model means the path default.
type Item struct {
	Index  int
	Prompt string
	Model  string
	Video  bool
}

// jsonItem accepts both "video" and the HTTP API's "isVideoMode" so a
// /api/generate body can be pasted into a batch file unchanged.
type jsonItem struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model,omitempty"`
	Video       bool   `json:"video,omitempty"`
	IsVideoMode bool   `json:"isVideoMode,omitempty"`
}

// ParseFile reads prompts from a .txt or .json file. Files without an
// extension are read as text.
func ParseFile(path string) ([]Item, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var parse func(io.Reader) ([]Item, error)
	switch ext {
	case ".json":
		parse = ParseJSON
	case ".txt", "":
		parse = ParseText
	default:
		return nil, fmt.Errorf("%w %q: use .txt or .json", ErrUnsupportedFormat, ext)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prompt file: %w", err)
	}
	defer file.Close()

	return parse(file)
}

// ParseText reads one prompt per line. Blank lines and lines starting with
// # are skipped. A line may start with "video:" and/or "[model-id]":
//
//	video: [veo3] slow orbit around the watch
func ParseText(r io.Reader) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		item := parseLine(line)
		if item.Prompt == "" {
			return nil, fmt.Errorf("line %d has no prompt", lineNo)
		}
		item.Index = len(items) + 1
		items = append(items, item)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prompt file: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNoPrompts
	}
	return items, nil
}

func parseLine(line string) Item {
	var item Item
	for {
		switch {
		case !item.Video && hasPrefixFold(line, "video:"):
			item.Video = true
			line = strings.TrimSpace(line[len("video:"):])
		case item.Model == "" && strings.HasPrefix(line, "["):
			end := strings.Index(line, "]")
			if end < 0 {
				item.Prompt = line
				return item
			}
			item.Model = strings.TrimSpace(line[1:end])
			line = strings.TrimSpace(line[end+1:])
		default:
			item.Prompt = line
			return item
		}
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// ParseJSON reads an array of {"prompt", "model", "video"} objects.
func ParseJSON(r io.Reader) ([]Item, error) {
	var raw []jsonItem
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNoPrompts
	}

	items := make([]Item, 0, len(raw))
	for i, ji := range raw {
		prompt := strings.TrimSpace(ji.Prompt)
		if prompt == "" {
			return nil, fmt.Errorf("item %d has empty prompt", i+1)
		}
		items = append(items, Item{
			Index:  i + 1,
			Prompt: prompt,
			Model:  strings.TrimSpace(ji.Model),
			Video:  ji.Video || ji.IsVideoMode,
		})
	}
	return items, nil
}
