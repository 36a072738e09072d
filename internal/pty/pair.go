package pty

import (
	"errors"
	"io"
	"os"
	"sync"

	ptylib "github.com/creack/pty"
)

// Pair is an allocated pseudo-terminal. Master and Slave are independent
// descriptors owned by whoever called Open.
type Pair struct {
	Master    *os.File
	Slave     *os.File
	SlavePath string

	masterOnce sync.Once
	slaveOnce  sync.Once
	masterErr  error
	slaveErr   error
}

// Open allocates a new pseudo-terminal and returns both sides already open.
func Open() (*Pair, error) {
	master, slave, path, err := open()
	if err != nil {
		return nil, err
	}
	return &Pair{Master: master, Slave: slave, SlavePath: path}, nil
}

// TakeSlave hands the slave descriptor to the caller. Afterwards the pair no
// longer closes it.
func (p *Pair) TakeSlave() *os.File {
	var slave *os.File
	p.slaveOnce.Do(func() { slave = p.Slave })
	return slave
}

// CloseMaster closes the master side. Reads on the slave then fail with EIO.
func (p *Pair) CloseMaster() error {
	p.masterOnce.Do(func() { p.masterErr = p.Master.Close() })
	return p.masterErr
}

// CloseSlave closes the slave side unless it was taken.
func (p *Pair) CloseSlave() error {
	p.slaveOnce.Do(func() { p.slaveErr = p.Slave.Close() })
	return p.slaveErr
}

// Close closes whatever the pair still owns.
func (p *Pair) Close() error {
	return errors.Join(p.CloseSlave(), p.CloseMaster())
}

// Resize sets the window size seen by the slave.
func (p *Pair) Resize(cols, rows int) error {
	if p.Master == nil {
		return io.ErrClosedPipe
	}
	return ptylib.Setsize(p.Master, &ptylib.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Size returns the current window size as columns and rows.
func (p *Pair) Size() (cols, rows int, err error) {
	ws, err := ptylib.GetsizeFull(p.Master)
	if err != nil {
		return 0, 0, err
	}
	return int(ws.Cols), int(ws.Rows), nil
}

// InheritSize copies the window size of from onto the pair.
func (p *Pair) InheritSize(from *os.File) error {
	return ptylib.InheritSize(from, p.Master)
}
