package entity

// File purposes accepted or produced by the gateway.
const (
	FilePurposeBatch       = "batch"
	FilePurposeBatchOutput = "batch_output"
)

// FileObject is the metadata record for an uploaded or generated blob,
// shaped like the OpenAI File object. Bytes always equals the stored
// blob length.
type FileObject struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
}

// Clone returns a copy; FileObject has no reference fields but readers
// get the same isolation guarantee as Batch.
func (f *FileObject) Clone() *FileObject {
	c := *f
	return &c
}
