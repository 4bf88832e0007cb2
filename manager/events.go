package manager

import (
	"errors"

	"github.com/adamwoolhether/xfer/session"
	"github.com/adamwoolhether/xfer/transfer"
)

var errNoLocation = errors.New("download finished without a file")

// demux routes the events of one session to the transfers of its class,
// looked up by task id. Events of tasks without a live transfer are
// dropped.
type demux struct {
	m     *Manager
	class transfer.Class
}

func (d *demux) TaskDidWriteData(_ session.Session, t session.Task, written, totalWritten, totalExpected int64) {
	if d.class == transfer.ClassDownload {
		d.m.didWriteData(t, written, totalWritten, totalExpected)
	}
}

func (d *demux) TaskDidFinishDownloading(_ session.Session, t session.Task, location string) {
	if d.class == transfer.ClassDownload {
		d.m.didFinishDownloading(t, location)
	}
}

func (d *demux) TaskDidSendBodyData(_ session.Session, t session.Task, sent, totalSent, totalExpected int64) {
	if d.class != transfer.ClassUpload {
		return
	}
	if up, ok := d.m.uploadTasks.Get(taskKey(t)); ok {
		up.DidSendBodyData(sent, totalSent, totalExpected)
	}
}

func (d *demux) TaskDidReceiveData(_ session.Session, t session.Task, data []byte) {
	switch d.class {
	case transfer.ClassUpload:
		streamDidReceiveData(d.m.uploadTasks, t, data)
	case transfer.ClassRequest:
		streamDidReceiveData(d.m.requestTasks, t, data)
	}
}

func (d *demux) TaskDidComplete(_ session.Session, t session.Task, err error) {
	switch d.class {
	case transfer.ClassDownload:
		d.m.downloadDidComplete(t, err)
	case transfer.ClassUpload:
		streamDidComplete(d.m.uploads, d.m.uploadTasks, t, err)
	case transfer.ClassRequest:
		streamDidComplete(d.m.requests, d.m.requestTasks, t, err)
	}
}

// SessionDidFinishEvents runs the drain handler of the download or upload
// session, once.
func (d *demux) SessionDidFinishEvents(s session.Session) {
	if d.class == transfer.ClassRequest {
		return
	}

	fn := d.m.takeDrain(s.Identifier())
	if fn == nil {
		return
	}

	d.m.logger.Info("session drained", "class", d.class.String(), "session", s.Identifier())
	fn()
}
