package transport

/*
Wire format of the stream transports (tcp://, ipc://). Every frame is written as

	[flags: 1 byte][length: 8 byte little-endian Sizebuf][body]

flags bit 0 (flagMore) is set on every frame but the last one of a message,
bit 1 (flagCommand) on every frame of a command message.
*/

import (
	"bufio"
	"fmt"
	"io"
)

const (
	flagMore    byte = 1 << 0
	flagCommand byte = 1 << 1
)

// Largest frame a stream connection accepts; longer length prefixes fail the connection.
const MaxFrameSize = 256 << 20

// Converts a number to a little-endian byte array, a so-called Sizebuf
func lengthToSizebuf(l uint64) [8]byte {
	var sizebuf [8]byte

	for i := 7; i >= 0; i-- {
		shift := uint(i * 8)
		sizebuf[i] = uint8((l & (255 << shift)) >> shift)
	}

	return sizebuf
}

// Gets the value from an encoded size number (a.k.a. Sizebuf, from lengthToSizebuf())
func sizebufToLength(b [8]byte) uint64 {
	var size uint64 = 0

	for i := 7; i >= 0; i-- {
		size |= uint64(b[i]) << (8 * uint(i))
	}
	return size
}

// Writes all frames of m. Does not flush.
func writeMsg(w *bufio.Writer, m Msg) error {
	if len(m.Frames) == 0 {
		return ErrEmptyMessage
	}
	for i, f := range m.Frames {
		var flags byte
		if i < len(m.Frames)-1 {
			flags |= flagMore
		}
		if m.Command {
			flags |= flagCommand
		}
		if err := w.WriteByte(flags); err != nil {
			return err
		}
		sizebuf := lengthToSizebuf(uint64(len(f)))
		if _, err := w.Write(sizebuf[:]); err != nil {
			return err
		}
		if _, err := w.Write(f); err != nil {
			return err
		}
	}
	return nil
}

// Reads frames until one without flagMore arrives.
// If you use a net.Conn, you may use the error as net.Error
// and look if a timeout has occurred etc.
func readMsg(r *bufio.Reader) (Msg, error) {
	var m Msg
	for {
		flags, err := r.ReadByte()
		if err != nil {
			return Msg{}, err
		}

		var sizebuf [8]byte
		if _, err = io.ReadFull(r, sizebuf[:]); err != nil {
			return Msg{}, err
		}

		length := sizebufToLength(sizebuf)
		if length > MaxFrameSize {
			return Msg{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
		}

		frame := make([]byte, length)
		if _, err = io.ReadFull(r, frame); err != nil {
			return Msg{}, err
		}

		m.Frames = append(m.Frames, frame)
		m.Command = flags&flagCommand != 0

		if flags&flagMore == 0 {
			return m, nil
		}
	}
}
