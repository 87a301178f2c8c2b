package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/aeolun/ninechess/pkg/secure"
)

// ErrHandshakeAborted wraps any failure during key exchange. The exchange is
// never resumed: the connection must be dropped.
var ErrHandshakeAborted = errors.New("handshake aborted")

// handshakeFrameLimit bounds the plain JSON handshake bodies (three ~2048-bit
// integers in decimal).
const handshakeFrameLimit = 8 * 1024

// HandshakeParams is the unencrypted key exchange payload.
type HandshakeParams struct {
	Y *big.Int `json:"y"`
	P *big.Int `json:"p"`
	G *big.Int `json:"g"`
}

// HandshakeConfig tunes the key exchange. The zero value uses group 14 and
// the default KDF work factor.
type HandshakeConfig struct {
	Group         secure.Group
	KDFIterations int
	Random        io.Reader
}

func (c HandshakeConfig) group() secure.Group {
	if c.Group.P == nil || c.Group.G == nil {
		return secure.Group14()
	}
	return c.Group
}

// ServerHandshake runs the server leg: send our public value and the group,
// read the client's, derive the session key.
func ServerHandshake(rw io.ReadWriter, cfg HandshakeConfig) ([]byte, error) {
	group := cfg.group()

	priv, err := secure.GenerateKey(cfg.Random, group)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeAborted, err)
	}

	if err := writeParams(rw, HandshakeParams{Y: priv.Public, P: group.P, G: group.G}); err != nil {
		return nil, fmt.Errorf("%w: send server params: %v", ErrHandshakeAborted, err)
	}

	peer, err := readParams(rw)
	if err != nil {
		return nil, fmt.Errorf("%w: read client params: %v", ErrHandshakeAborted, err)
	}
	if !group.Equal(secure.Group{P: peer.P, G: peer.G}) {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeAborted, secure.ErrGroupMismatch)
	}

	return deriveSessionKey(priv, peer.Y, cfg.KDFIterations)
}

// ClientHandshake runs the client leg against ServerHandshake. The client
// adopts the server's group only if it is the expected one.
func ClientHandshake(rw io.ReadWriter, cfg HandshakeConfig) ([]byte, error) {
	group := cfg.group()

	peer, err := readParams(rw)
	if err != nil {
		return nil, fmt.Errorf("%w: read server params: %v", ErrHandshakeAborted, err)
	}
	if !group.Equal(secure.Group{P: peer.P, G: peer.G}) {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeAborted, secure.ErrGroupMismatch)
	}

	priv, err := secure.GenerateKey(cfg.Random, group)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeAborted, err)
	}

	if err := writeParams(rw, HandshakeParams{Y: priv.Public, P: group.P, G: group.G}); err != nil {
		return nil, fmt.Errorf("%w: send client params: %v", ErrHandshakeAborted, err)
	}

	return deriveSessionKey(priv, peer.Y, cfg.KDFIterations)
}

func deriveSessionKey(priv *secure.PrivateKey, peerY *big.Int, iterations int) ([]byte, error) {
	secret, err := priv.SharedSecret(peerY)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeAborted, err)
	}
	return secure.DeriveKey(secret, iterations), nil
}

func writeParams(w io.Writer, params HandshakeParams) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}

func readParams(r io.Reader) (*HandshakeParams, error) {
	body, err := ReadFrame(r, handshakeFrameLimit)
	if err != nil {
		return nil, err
	}

	var params HandshakeParams
	if err := json.Unmarshal(body, &params); err != nil {
		return nil, fmt.Errorf("invalid handshake payload: %w", err)
	}
	if params.Y == nil || params.P == nil || params.G == nil {
		return nil, errors.New("handshake payload missing y, p or g")
	}
	return &params, nil
}
