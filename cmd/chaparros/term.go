//go:build linux || darwin

// The REPL runs the terminal in raw mode so single keystrokes reach it
// without waiting for a newline, the same reason the teacher's own
// prompt package drives the terminal through golang.org/x/sys/unix
// rather than bufio.Scanner line reads.
package main

import "golang.org/x/sys/unix"

type rawTerminal struct {
	fd     int
	saved  unix.Termios
	active bool
}

func newRawTerminal(fd int) (*rawTerminal, error) {
	saved, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, err
	}
	return &rawTerminal{fd: fd, saved: *saved}, nil
}

// Enable puts the terminal into raw mode: no line buffering, no echo,
// one byte at a time, matching the classic cfmakeraw transform.
func (r *rawTerminal) Enable() error {
	raw := r.saved
	raw.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	raw.Oflag &^= unix.OPOST
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag &^= unix.CSIZE | unix.PARENB
	raw.Cflag |= unix.CS8
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(r.fd, ioctlSetTermios, &raw); err != nil {
		return err
	}
	r.active = true
	return nil
}

// Restore returns the terminal to the mode it was in when newRawTerminal
// was called.
func (r *rawTerminal) Restore() error {
	if !r.active {
		return nil
	}
	r.active = false
	return unix.IoctlSetTermios(r.fd, ioctlSetTermios, &r.saved)
}
