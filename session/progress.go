package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// progressWriter is an io.Writer reporting every write to onWrite and
// logging download progress at most once per second when a logger is set.
type progressWriter struct {
	w           io.Writer
	onWrite     func(n, transferred int64)
	logger      *slog.Logger
	transferred int64
	total       int64
	startTime   time.Time
	lastLog     time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	if n > 0 {
		pw.transferred += int64(n)
		pw.onWrite(int64(n), pw.transferred)
	}

	if pw.logger == nil {
		return n, err
	}

	if time.Since(pw.lastLog) >= time.Second {
		pw.lastLog = time.Now()
		pw.log("downloading")
	}

	if pw.total >= 0 && pw.transferred == pw.total {
		pw.log("download complete")
	}

	return n, err
}

func (pw *progressWriter) log(msg string) {
	elapsed := time.Since(pw.startTime)
	attrs := []any{
		"elapsed", elapsed.Round(time.Millisecond),
		"transferred", pw.transferred,
		"total", pw.total,
		"mbps", fmt.Sprintf("%.2f", float64(pw.transferred)/elapsed.Seconds()/(1024*1024)),
	}
	if pw.total > 0 {
		attrs = append(attrs, "progress", fmt.Sprintf("%.1f%%", float64(pw.transferred)/float64(pw.total)*100))
	}
	pw.logger.Info(msg, attrs...)
}

// contextReader stops a copy once its context ends.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

// sendReader feeds a request body, holding back while its task is
// suspended and reporting every chunk handed to the transport.
type sendReader struct {
	ctx   context.Context
	r     io.Reader
	t     *task
	sent  int64
	total int64
}

func (sr *sendReader) Read(p []byte) (int, error) {
	if err := sr.t.waitRunning(sr.ctx); err != nil {
		return 0, err
	}

	n, err := sr.r.Read(p)
	if n > 0 {
		sr.sent += int64(n)
		sr.t.setProgress(sr.sent, sr.total)
		sr.t.s.events.TaskDidSendBodyData(sr.t.s, sr.t, int64(n), sr.sent, sr.total)
	}
	return n, err
}
