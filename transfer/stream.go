package transfer

// stream accumulates the response body of an upload or a request. The
// buffer belongs to the item and becomes the payload on success.
type stream struct {
	item[[]byte]

	url  string
	data []byte
}

// URL returns the target URL of the call.
func (s *stream) URL() string { return s.url }

// DidReceiveData appends a chunk of the response body.
func (s *stream) DidReceiveData(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}
	s.data = append(s.data, b...)
}

// Received returns the number of response bytes accumulated so far.
func (s *stream) Received() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.data)
}

// Complete performs the terminal transition. A nil err delivers the
// accumulated body. It returns nil if the item already finished.
func (s *stream) Complete(err error) *Terminal[[]byte] {
	return s.finish(func() Outcome[[]byte] {
		data := s.data
		s.data = nil
		if err != nil {
			return Outcome[[]byte]{Err: err}
		}
		if data == nil {
			data = []byte{}
		}
		return Outcome[[]byte]{Value: data}
	})
}

// Upload is a single file or multipart upload keyed by its request id.
type Upload struct {
	stream
}

// NewUpload creates a pending upload.
func NewUpload(id, url string, progress ProgressFunc, completion CompletionFunc[[]byte]) *Upload {
	u := &Upload{}
	u.url = url
	u.init(id, progress, completion)

	return u
}

// Handle returns the opaque handle for this upload.
func (u *Upload) Handle() Handle {
	return Handle{Class: ClassUpload, Key: u.key}
}

// DidSendBodyData forwards transport send progress to the progress listeners.
func (u *Upload) DidSendBodyData(sent, totalSent, totalExpected int64) {
	u.notify(sent, totalSent, totalExpected)
}

// Fraction returns the share of the request body sent so far, in [0, 1].
func (u *Upload) Fraction() float64 {
	sent, expected := u.Progress()
	if expected <= 0 {
		return 0
	}
	return float64(sent) / float64(expected)
}

// Request is a generic request/response call keyed by its request id.
type Request struct {
	stream
}

// NewRequest creates a pending request.
func NewRequest(id, url string, completion CompletionFunc[[]byte]) *Request {
	r := &Request{}
	r.url = url
	r.init(id, nil, completion)

	return r
}

// Handle returns the opaque handle for this request.
func (r *Request) Handle() Handle {
	return Handle{Class: ClassRequest, Key: r.key}
}
