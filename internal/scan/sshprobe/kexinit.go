package sshprobe

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	msgKexInit = 20

	maxBannerLines  = 32
	maxBannerLength = 255
	maxPacketLength = 35000
)

// kexInit holds the name-lists from the server's SSH_MSG_KEXINIT.
type kexInit struct {
	Kex                     []string
	ServerHostKey           []string
	CiphersClientServer     []string
	CiphersServerClient     []string
	MACsClientServer        []string
	MACsServerClient        []string
	CompressionClientServer []string
	CompressionServerClient []string
}

// readBanner returns the server identification line, skipping any
// preamble lines the server sends before it (RFC 4253 section 4.2).
// A line never grows past the reader's buffer.
func readBanner(r *bufio.Reader) (string, error) {
	for i := 0; i < maxBannerLines; i++ {
		raw, err := r.ReadSlice('\n')
		if len(raw) > maxBannerLength || errors.Is(err, bufio.ErrBufferFull) {
			return "", errors.New("read banner: line too long")
		}
		if err != nil {
			return "", fmt.Errorf("read banner: %w", err)
		}
		line := strings.TrimRight(string(raw), "\r\n")
		if strings.HasPrefix(line, "SSH-") {
			return line, nil
		}
	}
	return "", errors.New("read banner: no identification line")
}

// readPacket reads one unencrypted binary packet and returns its payload.
func readPacket(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read packet length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < 5 || length > maxPacketLength {
		return nil, fmt.Errorf("invalid packet length %d", length)
	}

	packet := make([]byte, length)
	if _, err := io.ReadFull(r, packet); err != nil {
		return nil, fmt.Errorf("read packet: %w", err)
	}

	padding := uint32(packet[0])
	if padding+1 > length {
		return nil, fmt.Errorf("invalid padding length %d", padding)
	}
	return packet[1 : length-padding], nil
}

func parseKexInit(payload []byte) (*kexInit, error) {
	if len(payload) < 17 || payload[0] != msgKexInit {
		return nil, errors.New("not a KEXINIT message")
	}
	rest := payload[17:]

	lists := make([][]string, 10)
	for i := range lists {
		if len(rest) < 4 {
			return nil, errors.New("truncated KEXINIT")
		}
		n := binary.BigEndian.Uint32(rest)
		rest = rest[4:]
		if uint32(len(rest)) < n {
			return nil, errors.New("truncated KEXINIT name-list")
		}
		if n > 0 {
			lists[i] = strings.Split(string(rest[:n]), ",")
		}
		rest = rest[n:]
	}

	return &kexInit{
		Kex:                     lists[0],
		ServerHostKey:           lists[1],
		CiphersClientServer:     lists[2],
		CiphersServerClient:     lists[3],
		MACsClientServer:        lists[4],
		MACsServerClient:        lists[5],
		CompressionClientServer: lists[6],
		CompressionServerClient: lists[7],
	}, nil
}

// parseBanner splits "SSH-2.0-OpenSSH_9.6p1 Ubuntu-3" into protocol
// version and software/comment.
func parseBanner(banner string) (version, software string) {
	parts := strings.SplitN(banner, "-", 3)
	if len(parts) < 3 {
		return "", ""
	}
	return parts[1], parts[2]
}
