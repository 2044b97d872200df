package text

import (
	"encoding/json"

	"github.com/mwantia/volcache/data"
)

// FormatName identifies the text metadata format.
const FormatName = "text"

// TextFormat is the default metadata codec. Group metadata is kept
// as a canonical JSON document, which keeps Serialize deterministic
// so the cache can compare blobs byte for byte.
type TextFormat struct{}

func NewTextFormat() *TextFormat {
	return &TextFormat{}
}

// Name returns the identifier name defined for this format.
func (*TextFormat) Name() string {
	return FormatName
}

// OrphanName returns the synthetic orphan group name for this format.
func (*TextFormat) OrphanName() string {
	return data.OrphanName(FormatName)
}

func (*TextFormat) Serialize(vg *data.VolumeGroup) ([]byte, error) {
	return json.Marshal(vg)
}

func (*TextFormat) Parse(buf []byte) (*data.VolumeGroup, error) {
	vg := &data.VolumeGroup{}
	if err := json.Unmarshal(buf, vg); err != nil {
		return nil, err
	}

	return vg, nil
}
