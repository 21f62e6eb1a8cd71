// Package sshprobe is the default scan engine. It connects to each socket,
// records the server banner, the algorithms offered in its key exchange
// and its host key, then evaluates the result against a policy.
package sshprobe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sshscan/sshscan-worker/internal/scan"
)

const clientVersion = "SSH-2.0-sshscan_worker"

var errHostKeyCaptured = errors.New("host key captured")

// HostKey describes the server's public host key.
type HostKey struct {
	Type              string `json:"type"`
	FingerprintSHA256 string `json:"fingerprint_sha256"`
	FingerprintMD5    string `json:"fingerprint_md5"`
}

// TargetResult is the scan outcome for one socket.
type TargetResult struct {
	Socket         string `json:"socket"`
	Banner         string `json:"banner,omitempty"`
	SSHVersion     string `json:"ssh_version,omitempty"`
	ServerSoftware string `json:"server_software,omitempty"`
	OS             string `json:"os,omitempty"`
	Product        string `json:"product,omitempty"`

	KeyAlgorithms                       []string `json:"key_algorithms,omitempty"`
	ServerHostKeyAlgorithms             []string `json:"server_host_key_algorithms,omitempty"`
	EncryptionAlgorithmsClientToServer  []string `json:"encryption_algorithms_client_to_server,omitempty"`
	EncryptionAlgorithmsServerToClient  []string `json:"encryption_algorithms_server_to_client,omitempty"`
	MACAlgorithmsClientToServer         []string `json:"mac_algorithms_client_to_server,omitempty"`
	MACAlgorithmsServerToClient         []string `json:"mac_algorithms_server_to_client,omitempty"`
	CompressionAlgorithmsClientToServer []string `json:"compression_algorithms_client_to_server,omitempty"`
	CompressionAlgorithmsServerToClient []string `json:"compression_algorithms_server_to_client,omitempty"`

	HostKey    *HostKey    `json:"host_key,omitempty"`
	Compliance *Compliance `json:"compliance,omitempty"`

	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	ScanDuration float64   `json:"scan_duration_seconds"`
	Error        string    `json:"error,omitempty"`
}

// Engine implements scan.Engine.
type Engine struct {
	logger *slog.Logger
}

var _ scan.Engine = (*Engine)(nil)

func New(logger *slog.Logger) *Engine {
	return &Engine{logger: logger}
}

// Scan probes every socket in cfg. A socket that cannot be probed is
// reported through its Error field; Scan itself only fails when the
// fingerprint database or policy cannot be loaded.
func (e *Engine) Scan(ctx context.Context, cfg scan.Config) (any, error) {
	if len(cfg.Sockets) == 0 {
		return nil, errors.New("no sockets to scan")
	}

	db, err := LoadFingerprints(cfg.FingerprintDatabase)
	if err != nil {
		return nil, err
	}
	policy, err := LoadPolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}

	results := make([]TargetResult, 0, len(cfg.Sockets))
	for _, socket := range cfg.Sockets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, e.scanSocket(ctx, socket, cfg.Timeout, db, policy))
	}
	return results, nil
}

func (e *Engine) scanSocket(ctx context.Context, socket string, timeout time.Duration, db *FingerprintDB, policy *Policy) (r TargetResult) {
	r = TargetResult{Socket: socket, StartTime: time.Now().UTC()}
	defer func() {
		r.EndTime = time.Now().UTC()
		r.ScanDuration = r.EndTime.Sub(r.StartTime).Seconds()
	}()

	banner, kex, err := grabKexInit(ctx, socket, timeout)
	if err != nil {
		e.logger.Debug("kexinit probe failed", "socket", socket, "err", err)
		r.Error = err.Error()
		return r
	}

	r.Banner = banner
	r.SSHVersion, r.ServerSoftware = parseBanner(banner)
	if fp, ok := db.Match(banner); ok {
		r.OS = fp.OS
		r.Product = fp.Product
	}
	r.KeyAlgorithms = kex.Kex
	r.ServerHostKeyAlgorithms = kex.ServerHostKey
	r.EncryptionAlgorithmsClientToServer = kex.CiphersClientServer
	r.EncryptionAlgorithmsServerToClient = kex.CiphersServerClient
	r.MACAlgorithmsClientToServer = kex.MACsClientServer
	r.MACAlgorithmsServerToClient = kex.MACsServerClient
	r.CompressionAlgorithmsClientToServer = kex.CompressionClientServer
	r.CompressionAlgorithmsServerToClient = kex.CompressionServerClient

	hostKey, err := grabHostKey(ctx, socket, timeout)
	if err != nil {
		e.logger.Debug("host key probe failed", "socket", socket, "err", err)
		r.Error = err.Error()
	}
	r.HostKey = hostKey

	compliance := policy.Evaluate(&r)
	r.Compliance = &compliance
	return r
}

func dial(ctx context.Context, socket string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", socket)
	if err != nil {
		return nil, err
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// grabKexInit exchanges identification strings and reads the server's
// KEXINIT without taking part in the key exchange.
func grabKexInit(ctx context.Context, socket string, timeout time.Duration) (string, *kexInit, error) {
	conn, err := dial(ctx, socket, timeout)
	if err != nil {
		return "", nil, err
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\r\n", clientVersion); err != nil {
		return "", nil, fmt.Errorf("send version: %w", err)
	}

	br := bufio.NewReader(conn)
	banner, err := readBanner(br)
	if err != nil {
		return "", nil, err
	}

	payload, err := readPacket(br)
	if err != nil {
		return banner, nil, err
	}
	kex, err := parseKexInit(payload)
	if err != nil {
		return banner, nil, err
	}
	return banner, kex, nil
}

// grabHostKey runs the handshake far enough to see the host key and then
// aborts before authentication.
func grabHostKey(ctx context.Context, socket string, timeout time.Duration) (*HostKey, error) {
	conn, err := dial(ctx, socket, timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var captured ssh.PublicKey
	config := &ssh.ClientConfig{
		User:          "sshscan",
		ClientVersion: clientVersion,
		Timeout:       timeout,
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			captured = key
			return errHostKeyCaptured
		},
	}

	_, _, _, err = ssh.NewClientConn(conn, socket, config)
	if captured == nil {
		if err == nil {
			err = errors.New("no host key offered")
		}
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}

	return &HostKey{
		Type:              captured.Type(),
		FingerprintSHA256: ssh.FingerprintSHA256(captured),
		FingerprintMD5:    ssh.FingerprintLegacyMD5(captured),
	}, nil
}
