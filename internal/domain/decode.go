package domain

// DecoderChannel is an input a protocol decoder expects.
type DecoderChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Desc string `json:"desc"`
}

// DecoderOption describes a tunable decoder parameter. A non-empty Values
// list restricts the option to an enumeration.
type DecoderOption struct {
	ID      string
	Desc    string
	Default Value
	Values  []Value
}

// DecoderDef is the static description of a decoder offered by an engine.
type DecoderDef struct {
	ID          string
	Name        string
	Description string
	Channels    []DecoderChannel
	OptChannels []DecoderChannel
	Options     []DecoderOption
	Annotations []string
}

// AllChannels returns required channels followed by optional ones.
func (d *DecoderDef) AllChannels() []DecoderChannel {
	out := make([]DecoderChannel, 0, len(d.Channels)+len(d.OptChannels))
	out = append(out, d.Channels...)
	return append(out, d.OptChannels...)
}

// Option looks up an option definition by ID.
func (d *DecoderDef) Option(id string) (DecoderOption, bool) {
	for _, o := range d.Options {
		if o.ID == id {
			return o, true
		}
	}
	return DecoderOption{}, false
}

// Annotation is one decoder output keyed by the sample range it covers.
type Annotation struct {
	StartSample uint64   `json:"start_sample"`
	EndSample   uint64   `json:"end_sample"`
	DecoderID   string   `json:"decoder_id"`
	Class       int      `json:"class"`
	ClassName   string   `json:"class_name"`
	Texts       []string `json:"texts"`
}
