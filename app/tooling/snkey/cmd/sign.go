package cmd

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/overlaynet/storenode/foundation/storenode/signature"
)

var signCmd = &cobra.Command{
	Use:   "sign [file]",
	Short: "Sign a file with the stored private key",
	Args:  cobra.ExactArgs(1),
	Run:   signRun,
}

func init() {
	rootCmd.AddCommand(signCmd)
}

func signRun(cmd *cobra.Command, args []string) {
	kp, err := loadKeypair()
	if err != nil {
		log.Fatal(err)
	}

	body, err := os.ReadFile(args[0])
	if err != nil {
		log.Fatal(err)
	}

	sig, err := signature.SignEncoded(body, kp)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(sig)
}

// loadKeypair reads and validates the key file shared by the commands.
func loadKeypair() (signature.Keypair, error) {
	keyHex, err := os.ReadFile(keyFile)
	if err != nil {
		return signature.Keypair{}, err
	}

	privateKey, err := signature.PrivateKeyFromHex(strings.TrimSpace(string(keyHex)))
	if err != nil {
		return signature.Keypair{}, err
	}

	publicKey, err := signature.DerivePublicKey(privateKey)
	if err != nil {
		return signature.Keypair{}, err
	}

	return signature.Keypair{Public: publicKey, Private: privateKey}, nil
}
