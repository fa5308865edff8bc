package sui

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/xerrors"
)

const (
	// flagEd25519 is the signature scheme byte Sui prefixes to keys and signatures.
	flagEd25519 byte = 0x00

	privateKeyHRP = "suiprivkey"
)

// intentTransaction is the intent prefix for transaction data: scope, version, app id.
var intentTransaction = []byte{0, 0, 0}

// Keypair is an ed25519 faucet signer.
type Keypair struct {
	priv ed25519.PrivateKey
}

// GenerateKeypair creates a new keypair from rand.
func GenerateKeypair(rand io.Reader) (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, xerrors.Wrap(err, "generate ed25519 key")
	}
	return &Keypair{priv: priv}, nil
}

// KeypairFromSeed builds a keypair from a 32 byte ed25519 seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, xerrors.Newf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Keypair{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// ParseKeypair accepts a suiprivkey bech32 string, base64 of the seed with or without the
// scheme flag, or a 0x-prefixed hex seed.
func ParseKeypair(s string) (*Keypair, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, xerrors.New("empty private key")
	}

	if strings.HasPrefix(strings.ToLower(s), privateKeyHRP+"1") {
		hrp, payload, err := bech32Decode(s)
		if err != nil {
			return nil, xerrors.Wrap(err, "decode suiprivkey")
		}
		if hrp != privateKeyHRP {
			return nil, xerrors.Newf("unexpected key prefix %q", hrp)
		}
		return keypairFromFlagged(payload)
	}

	if strings.HasPrefix(s, "0x") {
		seed, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, xerrors.Wrap(err, "decode hex private key")
		}
		return KeypairFromSeed(seed)
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, xerrors.Wrap(err, "decode base64 private key")
	}
	if len(raw) == ed25519.SeedSize+1 {
		return keypairFromFlagged(raw)
	}
	return KeypairFromSeed(raw)
}

func keypairFromFlagged(b []byte) (*Keypair, error) {
	if len(b) != ed25519.SeedSize+1 {
		return nil, xerrors.Newf("flagged private key must be %d bytes, got %d", ed25519.SeedSize+1, len(b))
	}
	if b[0] != flagEd25519 {
		return nil, xerrors.Newf("unsupported key scheme 0x%02x", b[0])
	}
	return KeypairFromSeed(b[1:])
}

// PublicKey returns the ed25519 public key.
func (k *Keypair) PublicKey() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}

// Address is the Sui address derived from the public key.
func (k *Keypair) Address() string {
	return AddressFromPublicKey(k.PublicKey())
}

// Encode returns the key in suiprivkey bech32 form.
func (k *Keypair) Encode() string {
	payload := append([]byte{flagEd25519}, k.priv.Seed()...)
	s, err := bech32Encode(privateKeyHRP, payload)
	if err != nil {
		// payload is always 8-bit clean
		panic(err)
	}
	return s
}

// SignTransaction signs BCS transaction bytes and returns the serialized signature
// (flag || signature || public key, base64) that sui_executeTransactionBlock expects.
func (k *Keypair) SignTransaction(txBytes []byte) string {
	msg := make([]byte, 0, len(intentTransaction)+len(txBytes))
	msg = append(msg, intentTransaction...)
	msg = append(msg, txBytes...)
	digest := blake2b.Sum256(msg)

	sig := ed25519.Sign(k.priv, digest[:])
	pub := k.PublicKey()

	out := make([]byte, 0, 1+len(sig)+len(pub))
	out = append(out, flagEd25519)
	out = append(out, sig...)
	out = append(out, pub...)
	return base64.StdEncoding.EncodeToString(out)
}

// AddressFromPublicKey hashes flag || pubkey with blake2b-256.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, flagEd25519)
	buf = append(buf, pub...)
	sum := blake2b.Sum256(buf)
	return "0x" + hex.EncodeToString(sum[:])
}
