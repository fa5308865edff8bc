// Package keysource resolves the faucet signing key from configuration, SSM Parameter Store
// or a KMS-encrypted blob.
package keysource

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/xerrors"
)

// ssmGetter is the subset of the SSM API used to read a SecureString.
type ssmGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// kmsDecrypter is the subset of the KMS API used to decrypt a ciphertext blob.
type kmsDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Options selects exactly one key source.
type Options struct {
	// Inline is the key itself, typically from LMFAUCET_FAUCET_KEY.
	Inline string

	// SSMParam names a SecureString parameter holding the key.
	SSMParam string

	// KMSCiphertext is a base64 blob that decrypts to the key.
	KMSCiphertext string

	// AWS config (uses default chain if nil)
	AWSConfig *aws.Config
}

// Source is how the key was obtained, for logs.
type Source string

const (
	SourceInline Source = "inline"
	SourceSSM    Source = "ssm"
	SourceKMS    Source = "kms"
)

// Resolver fetches the key. AWS clients are only built when an AWS source is configured.
type Resolver struct {
	opts Options
	ssm  ssmGetter
	kms  kmsDecrypter
}

// New validates opts and builds the AWS clients the chosen source needs.
func New(ctx context.Context, opts Options) (*Resolver, error) {
	opts.Inline = strings.TrimSpace(opts.Inline)
	opts.SSMParam = strings.TrimSpace(opts.SSMParam)
	opts.KMSCiphertext = strings.TrimSpace(opts.KMSCiphertext)

	n := 0
	for _, s := range []string{opts.Inline, opts.SSMParam, opts.KMSCiphertext} {
		if s != "" {
			n++
		}
	}
	switch {
	case n == 0:
		return nil, xerrors.New("no faucet key configured: set -faucet-key, -faucet-key-ssm-param or -faucet-key-kms-ciphertext")
	case n > 1:
		return nil, xerrors.New("configure only one faucet key source")
	}

	r := &Resolver{opts: opts}
	if opts.Inline != "" {
		return r, nil
	}

	var awsCfg aws.Config
	if opts.AWSConfig != nil {
		awsCfg = *opts.AWSConfig
	} else {
		var err error
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}
	if opts.SSMParam != "" {
		r.ssm = ssm.NewFromConfig(awsCfg)
	} else {
		r.kms = kms.NewFromConfig(awsCfg)
	}
	return r, nil
}

// Resolve returns the key string and where it came from.
func (r *Resolver) Resolve(ctx context.Context) (string, Source, error) {
	switch {
	case strings.TrimSpace(r.opts.Inline) != "":
		return strings.TrimSpace(r.opts.Inline), SourceInline, nil
	case strings.TrimSpace(r.opts.SSMParam) != "":
		key, err := r.fromSSM(ctx)
		return key, SourceSSM, err
	default:
		key, err := r.fromKMS(ctx)
		return key, SourceKMS, err
	}
}

func (r *Resolver) fromSSM(ctx context.Context) (string, error) {
	if r.ssm == nil {
		return "", xerrors.New("ssm client is not configured")
	}
	out, err := r.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(r.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", r.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", r.opts.SSMParam)
	}
	key := strings.TrimSpace(*out.Parameter.Value)
	if key == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", r.opts.SSMParam)
	}
	return key, nil
}

func (r *Resolver) fromKMS(ctx context.Context) (string, error) {
	if r.kms == nil {
		return "", xerrors.New("kms client is not configured")
	}
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(r.opts.KMSCiphertext))
	if err != nil {
		return "", xerrors.Wrap(err, "decode kms ciphertext")
	}
	out, err := r.kms.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return "", xerrors.Wrap(err, "kms decrypt")
	}
	key := strings.TrimSpace(string(out.Plaintext))
	if key == "" {
		return "", xerrors.New("kms plaintext is empty")
	}
	return key, nil
}
