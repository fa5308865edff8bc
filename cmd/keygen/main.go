// Command keygen creates a new ed25519 faucet keypair and prints the private key in
// suiprivkey form along with the Sui address to fund.
package main

import (
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/keithlinneman/linnemanlabs-faucet/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-faucet/internal/sui"
	v "github.com/keithlinneman/linnemanlabs-faucet/internal/version"
)

type output struct {
	Address    string `json:"address"`
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

func main() {
	asJSON := flag.Bool("json", false, "print the keypair as JSON")
	showVersion := flag.Bool("V", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(v.Get().String())
		return
	}

	kp, err := sui.GenerateKeypair(rand.Reader)
	if err != nil {
		fmt.Fprintln(os.Stderr, "keygen:", err)
		os.Exit(1)
	}
	out := output{
		Address:    kp.Address(),
		PrivateKey: kp.Encode(),
		PublicKey:  fmt.Sprintf("%x", []byte(kp.PublicKey())),
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintln(os.Stderr, "keygen:", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("address:     %s\n", out.Address)
	fmt.Printf("private key: %s\n", out.PrivateKey)
	fmt.Printf("public key:  %s\n", out.PublicKey)
	fmt.Fprintf(os.Stderr, "\nstore the private key in %sFAUCET_KEY, an SSM SecureString or a KMS ciphertext and fund the address before starting the server\n", cfg.EnvPrefix)
}
