package compio

// Buffer owns a contiguous region of bytes travelling through the
// completion pipeline. Ownership is transferred, never shared: once a
// Buffer is handed to an operation, or delivered to a completion handler,
// exactly one side may keep using it.
//
// The zero value is an empty Buffer.
type Buffer struct {
	data []byte
}

// NewBuffer wraps data in a Buffer, taking ownership of the backing array.
// The caller must not retain data afterwards.
func NewBuffer(data []byte) Buffer {
	return Buffer{data: data}
}

// Bytes exposes the owned region. The slice aliases the Buffer contents.
func (buf Buffer) Bytes() []byte {
	return buf.data
}

func (buf Buffer) Len() int {
	return len(buf.data)
}

func (buf Buffer) String() string {
	return string(buf.data)
}

// Skip transfers ownership of everything past the first n bytes to the
// returned Buffer. The receiver must not be used afterwards. Skipping past
// the end yields an empty Buffer.
func (buf Buffer) Skip(n int) Buffer {
	if n >= len(buf.data) {
		return Buffer{}
	}
	if n < 0 {
		n = 0
	}
	return Buffer{data: buf.data[n:]}
}
