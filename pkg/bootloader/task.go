package bootloader

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Outcome of an upload task
type Result struct {
	BytesSent int
	Total     int
	Err       error
}

// Partial is true when some but not all of the image went out
func (r Result) Partial() bool {
	return r.Err != nil && r.BytesSent > 0 && r.BytesSent < r.Total
}

// Task is an upload running on its own goroutine
type Task struct {
	ID     string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	result Result
}

// Start runs Upload in the background. Only one upload may run per uploader.
func (u *Uploader) Start(ctx context.Context, image []byte) (*Task, error) {
	if len(image) == 0 {
		return nil, ErrNoFirmware
	}
	if err := u.acquire(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	task := &Task{
		ID:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	logger := u.logger.WithField("task", task.ID)
	logger.Infof("starting upload of %d bytes (%v)", len(image), u.config.Profile)
	go func() {
		defer close(task.done)
		defer cancel()
		defer u.release()
		defer func() {
			if err := u.link.Close(); err != nil {
				logger.Warnf("closing link : %v", err)
			}
		}()
		sent, err := u.upload(ctx, image)
		task.result = Result{BytesSent: sent, Total: len(image), Err: err}
		if err != nil {
			logger.Errorf("upload failed : %v", err)
		}
	}()
	return task, nil
}

// Cancel asks the upload to stop before its next frame
func (t *Task) Cancel() {
	t.once.Do(t.cancel)
}

// Done is closed once the upload has returned and the link is closed
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the upload returns
func (t *Task) Wait() Result {
	<-t.done
	return t.result
}
