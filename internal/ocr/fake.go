package ocr

import "context"

// FakeClient is a test implementation of Client.
type FakeClient struct {
	Results map[string]Result // keyed by documentType+"/"+side
	Err     error
}

func NewFakeClient() *FakeClient {
	return &FakeClient{Results: make(map[string]Result)}
}

func (c *FakeClient) Extract(ctx context.Context, image []byte, documentType, side string) (Result, error) {
	if c.Err != nil {
		return Result{}, c.Err
	}
	if r, ok := c.Results[documentType+"/"+side]; ok {
		return r, nil
	}
	return Result{Fields: Fields{}}, nil
}

// AddResult registers a canned extraction for a documentType/side pair.
func (c *FakeClient) AddResult(documentType, side string, r Result) {
	c.Results[documentType+"/"+side] = r
}
