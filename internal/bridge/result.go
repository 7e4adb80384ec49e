package bridge

// ReadResult completes a Read: either Data (never empty) or Err.
type ReadResult struct {
	Data []byte
	Err  error
}

// Legacy maps the result to the (bytes, errString) convention of the
// browser-era ws2s API, where "" means success and any other string is an
// error message accompanied by empty bytes.
func (r ReadResult) Legacy() ([]byte, string) {
	if r.Err != nil {
		return []byte{}, r.Err.Error()
	}
	return r.Data, ""
}

// WriteResult completes a Write. N is the number of payload bytes handed to
// the bridge; it says nothing about the remote end having processed them.
type WriteResult struct {
	N   int
	Err error
}

// Legacy maps the result to (n, errString) with "" meaning success.
func (r WriteResult) Legacy() (int, string) {
	if r.Err != nil {
		return r.N, r.Err.Error()
	}
	return r.N, ""
}

// LegacyRead adapts a callback written against the empty-string convention.
func LegacyRead(cb func(data []byte, err string)) func(ReadResult) {
	return func(r ReadResult) { cb(r.Legacy()) }
}

// LegacyWrite adapts a write callback written against the empty-string convention.
func LegacyWrite(cb func(n int, err string)) func(WriteResult) {
	return func(r WriteResult) { cb(r.Legacy()) }
}
