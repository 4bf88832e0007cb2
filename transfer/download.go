package transfer

// Download is a coalescing file download keyed by its URL. Its successful
// outcome is the path of the file in the download cache.
type Download struct {
	item[string]

	tag      string
	fileName string
}

// NewDownload creates a pending download for url. fileName is the name the
// finished artifact gets inside the file cache.
func NewDownload(url, tag, fileName string, progress ProgressFunc, completion CompletionFunc[string]) *Download {
	d := &Download{
		tag:      tag,
		fileName: fileName,
	}
	d.init(url, progress, completion)

	return d
}

// URL returns the download URL, which is also its registry key.
func (d *Download) URL() string { return d.key }

// Tag returns the caller supplied tag attached to the transport task.
func (d *Download) Tag() string { return d.tag }

// FileName returns the cache file name derived from the URL.
func (d *Download) FileName() string { return d.fileName }

// Handle returns the opaque handle for this download.
func (d *Download) Handle() Handle {
	return Handle{Class: ClassDownload, Key: d.key, Tag: d.tag}
}

// DidWriteData forwards transport progress to the progress listeners.
func (d *Download) DidWriteData(written, totalWritten, totalExpected int64) {
	d.notify(written, totalWritten, totalExpected)
}

// Finish performs the terminal transition with the cached file path on
// success or err on failure. It returns nil if the item already finished.
func (d *Download) Finish(path string, err error) *Terminal[string] {
	return d.finish(func() Outcome[string] {
		if err != nil {
			return Outcome[string]{Err: err}
		}
		return Outcome[string]{Value: path}
	})
}
