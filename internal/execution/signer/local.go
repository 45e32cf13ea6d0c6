package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Environment variables holding signing credentials.
const (
	EnvPrivateKey           = "XBRIDGE_PRIVATE_KEY"
	EnvPrivateKeyFile       = "XBRIDGE_PRIVATE_KEY_FILE"
	EnvKeystorePath         = "XBRIDGE_KEYSTORE_PATH"
	EnvKeystorePassword     = "XBRIDGE_KEYSTORE_PASSWORD"
	EnvKeystorePasswordFile = "XBRIDGE_KEYSTORE_PASSWORD_FILE"
)

// KeySource selects where the signing key comes from.
type KeySource string

const (
	KeySourceAuto     KeySource = "auto"
	KeySourceEnv      KeySource = "env"
	KeySourceFile     KeySource = "file"
	KeySourceKeystore KeySource = "keystore"
)

func ParseKeySource(v string) (KeySource, error) {
	switch s := KeySource(strings.ToLower(strings.TrimSpace(v))); s {
	case "":
		return KeySourceAuto, nil
	case KeySourceAuto, KeySourceEnv, KeySourceFile, KeySourceKeystore:
		return s, nil
	default:
		return "", fmt.Errorf("unsupported key source %q (expected auto|env|file|keystore)", v)
	}
}

// Credentials are the raw inputs a key can be loaded from. Empty fields are
// not configured.
type Credentials struct {
	PrivateKeyHex        string
	PrivateKeyFile       string
	KeystorePath         string
	KeystorePassword     string
	KeystorePasswordFile string
}

func CredentialsFromEnv() Credentials {
	return Credentials{
		PrivateKeyHex:        strings.TrimSpace(os.Getenv(EnvPrivateKey)),
		PrivateKeyFile:       strings.TrimSpace(os.Getenv(EnvPrivateKeyFile)),
		KeystorePath:         strings.TrimSpace(os.Getenv(EnvKeystorePath)),
		KeystorePassword:     os.Getenv(EnvKeystorePassword),
		KeystorePasswordFile: strings.TrimSpace(os.Getenv(EnvKeystorePasswordFile)),
	}
}

// LocalSigner holds an in-process secp256k1 key.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// FromEnv loads the signer named by source from the XBRIDGE_* variables.
func FromEnv(source string) (*LocalSigner, error) {
	ks, err := ParseKeySource(source)
	if err != nil {
		return nil, err
	}
	return Load(ks, CredentialsFromEnv())
}

// Load resolves one key from creds. Auto takes the first configured input in
// the order raw key, key file, keystore.
func Load(source KeySource, creds Credentials) (*LocalSigner, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	switch source {
	case KeySourceEnv:
		if creds.PrivateKeyHex == "" {
			return nil, fmt.Errorf("key source env needs %s", EnvPrivateKey)
		}
		key, err = parseHexKey(creds.PrivateKeyHex)
	case KeySourceFile:
		if creds.PrivateKeyFile == "" {
			return nil, fmt.Errorf("key source file needs %s", EnvPrivateKeyFile)
		}
		key, err = readKeyFile(creds.PrivateKeyFile)
	case KeySourceKeystore:
		if creds.KeystorePath == "" {
			return nil, fmt.Errorf("key source keystore needs %s", EnvKeystorePath)
		}
		key, err = decryptKeystore(creds)
	case KeySourceAuto, "":
		switch {
		case creds.PrivateKeyHex != "":
			return Load(KeySourceEnv, creds)
		case creds.PrivateKeyFile != "":
			return Load(KeySourceFile, creds)
		case creds.KeystorePath != "":
			return Load(KeySourceKeystore, creds)
		}
		return nil, fmt.Errorf("no signing key configured: set %s, %s or %s", EnvPrivateKey, EnvPrivateKeyFile, EnvKeystorePath)
	default:
		return nil, fmt.Errorf("unsupported key source %q", source)
	}
	if err != nil {
		return nil, err
	}
	return newLocalSigner(key), nil
}

func newLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *LocalSigner) Address() common.Address { return s.address }

// String never exposes key material.
func (s *LocalSigner) String() string { return "local signer " + s.address.Hex() }

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("local signer has no key")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// SignMessage produces an EIP-191 personal_sign signature with v in {27, 28},
// the form gas relays verify.
func (s *LocalSigner) SignMessage(data []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("local signer has no key")
	}
	sig, err := crypto.Sign(accounts.TextHash(data), s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	if clean == "" {
		return nil, errors.New("private key is empty")
	}
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		// The parse error can echo key bytes.
		return nil, errors.New("private key is not 32 bytes of hex")
	}
	return key, nil
}

func readKeyFile(path string) (*ecdsa.PrivateKey, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key file: %w", err)
	}
	return parseHexKey(string(buf))
}

func decryptKeystore(creds Credentials) (*ecdsa.PrivateKey, error) {
	password := creds.KeystorePassword
	if password == "" && creds.KeystorePasswordFile != "" {
		buf, err := os.ReadFile(creds.KeystorePasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read keystore password file: %w", err)
		}
		password = strings.TrimRight(string(buf), "\r\n")
	}
	if password == "" {
		return nil, fmt.Errorf("keystore needs %s or %s", EnvKeystorePassword, EnvKeystorePasswordFile)
	}
	buf, err := os.ReadFile(creds.KeystorePath)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	k, err := keystore.DecryptKey(buf, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return k.PrivateKey, nil
}
