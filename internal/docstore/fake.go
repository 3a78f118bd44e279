package docstore

import "context"

// Fake is a test implementation of Store that keeps documents in
// memory.
type Fake struct {
	Saved map[string][]byte
	Err   error
}

func NewFake() *Fake {
	return &Fake{Saved: make(map[string][]byte)}
}

func (f *Fake) Persist(ctx context.Context, name string, data []byte) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	url := "memory://" + name
	f.Saved[url] = data
	return url, nil
}
