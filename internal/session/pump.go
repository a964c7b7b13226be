package session

import (
	"bytes"
	"context"

	"golang.org/x/crypto/ssh"

	"oxideterm/internal/errs"
)

// Connect drives the Created -> Connecting -> Connected transition: it
// opens a PTY/shell channel through the owning HandleOwner and starts
// the read/write pumps (spec §4.8).
func (e *Entry) Connect(wsPort int, wsToken string) error {
	ch, err := e.controller.OpenSessionChannel(e.Config.Term, e.Config.Cols, e.Config.Rows)
	if err != nil {
		e.MarkFailed(err.Error())
		return errs.Wrap(errs.KindConnection, err, "shell channel open failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.MarkConnected(ch, ctx, cancel, wsPort, wsToken); err != nil {
		cancel()
		_ = ch.Close()
		return err
	}

	go e.readPump(ch)
	go e.writePump(ctx, ch)
	return nil
}

// readPump copies channel output to the broadcast and scroll buffer
// until the channel closes, then transitions to Disconnected.
func (e *Entry) readPump(ch ssh.Channel) {
	var pending []byte
	buf := make([]byte, 32*1024)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			e.output.Publish(chunk)
			pending = e.captureLines(append(pending, chunk...))
		}
		if err != nil {
			break
		}
	}
	e.MarkDisconnected()
}

// captureLines appends complete '\n'-terminated lines in data to the
// scroll buffer and returns the unterminated remainder.
func (e *Entry) captureLines(data []byte) []byte {
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return data
		}
		line := bytes.TrimRight(data[:i], "\r")
		if len(line) > 0 {
			e.buffer.Append(string(line), nowMS())
		}
		data = data[i+1:]
	}
}

// writePump drains the command channel, writing data/resize/close
// requests to the live channel until Close or context cancellation.
func (e *Entry) writePump(ctx context.Context, ch ssh.Channel) {
	defer ch.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-e.cmdCh:
			if !ok {
				return
			}
			switch cmd.Kind {
			case CommandData:
				if _, err := ch.Write(cmd.Data); err != nil {
					return
				}
			case CommandResize:
				_ = e.controller.Resize(ch, cmd.Cols, cmd.Rows)
			case CommandClose:
				return
			}
		}
	}
}
