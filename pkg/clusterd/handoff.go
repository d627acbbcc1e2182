package clusterd

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/restloop/clusterd/internal/ctrlproto"
)

// maxHandoffOOB is generously sized for a single SCM_RIGHTS cmsg carrying one
// file descriptor; ancillary data for one fd is small and fixed-size.
const maxHandoffOOB = 32

// handoffHeader builds the 4-byte big-endian length prefix used by
// internal/framing, so the control channel's wire format matches the rest of
// the codebase's framed protocols bit-for-bit.
func handoffHeader(payload []byte) []byte {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	return header
}

// sendHandoff frames a control message and, for a balancing message, attaches
// the connection's underlying socket file descriptor as SCM_RIGHTS ancillary
// data on the same write. This is the one place a live socket crosses the
// process boundary.
func sendHandoff(controlConn *net.UnixConn, msg *ctrlproto.Message, codec Codec, conn *net.TCPConn) error {
	payload, err := codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal handoff message: %w", err)
	}

	data := append(handoffHeader(payload), payload...)

	if conn == nil {
		if _, err := controlConn.Write(data); err != nil {
			return fmt.Errorf("write handoff message: %w", err)
		}
		return nil
	}

	file, err := conn.File()
	if err != nil {
		return fmt.Errorf("dup socket for handoff: %w", err)
	}
	defer file.Close()

	rights := unix.UnixRights(int(file.Fd()))

	n, oobn, err := controlConn.WriteMsgUnix(data, rights, nil)
	if err != nil {
		return fmt.Errorf("sendmsg handoff: %w", err)
	}
	if n != len(data) || oobn != len(rights) {
		return fmt.Errorf("short sendmsg handoff: wrote %d/%d bytes, %d/%d oob", n, len(data), oobn, len(rights))
	}

	return nil
}

// recvHandoff reads one framed control message off the channel, recovering
// any passed file descriptor from SCM_RIGHTS ancillary data. When msg is a
// close notification there is never an attached fd and conn is nil.
func recvHandoff(controlConn *net.UnixConn, codec Codec) (msg *ctrlproto.Message, conn *net.TCPConn, err error) {
	lengthBuf := make([]byte, 4)
	oob := make([]byte, maxHandoffOOB)

	n, oobn, _, _, err := controlConn.ReadMsgUnix(lengthBuf, oob)
	if err != nil {
		return nil, nil, fmt.Errorf("recvmsg handoff header: %w", err)
	}
	if n != len(lengthBuf) {
		return nil, nil, fmt.Errorf("short handoff header: got %d bytes", n)
	}

	length := binary.BigEndian.Uint32(lengthBuf)
	payload := make([]byte, length)
	if length > 0 {
		if _, err := readFull(controlConn, payload); err != nil {
			return nil, nil, fmt.Errorf("read handoff payload: %w", err)
		}
	}

	msg = &ctrlproto.Message{}
	if err := codec.Unmarshal(payload, msg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal handoff message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, nil, err
	}

	if oobn > 0 {
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return msg, nil, fmt.Errorf("parse control message: %w", err)
		}
		for _, scm := range scms {
			fds, err := unix.ParseUnixRights(&scm)
			if err != nil {
				continue
			}
			for _, fd := range fds {
				f := os.NewFile(uintptr(fd), "handoff-socket")
				nc, err := net.FileConn(f)
				_ = f.Close()
				if err != nil {
					return msg, nil, fmt.Errorf("reconstruct handed-off conn: %w", err)
				}
				tc, ok := nc.(*net.TCPConn)
				if !ok {
					_ = nc.Close()
					return msg, nil, fmt.Errorf("handed-off fd is not a TCP socket")
				}
				conn = tc
			}
		}
	}

	return msg, conn, nil
}

// readFull reads exactly len(buf) bytes, retrying partial reads.
func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
