package har

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/brucehart/harlite/internal/harerr"
)

// ParseFile reads and decodes a HAR document from disk.
func ParseFile(path string) (*Har, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, harerr.New(harerr.IOFault, "har.ParseFile", err)
	}
	defer f.Close()

	var doc Har
	dec := json.NewDecoder(f)
	if err := dec.Decode(&doc); err != nil {
		return nil, harerr.New(harerr.InputInvalid, "har.ParseFile", fmt.Errorf("decode %s: %w", path, err))
	}
	return &doc, nil
}
