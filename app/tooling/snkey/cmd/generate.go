package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/overlaynet/storenode/foundation/storenode/encode"
	"github.com/overlaynet/storenode/foundation/storenode/signature"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new node keypair",
	Run:   generateRun,
}

func init() {
	rootCmd.AddCommand(generateCmd)
}

func generateRun(cmd *cobra.Command, args []string) {
	kp, err := signature.GenerateKeypair(nil)
	if err != nil {
		log.Fatal(err)
	}

	if err := os.MkdirAll(filepath.Dir(keyFile), 0755); err != nil {
		log.Fatal(err)
	}

	if err := os.WriteFile(keyFile, []byte(encode.ToHex(kp.Private[:])), 0600); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("key file: %s\n", keyFile)
	fmt.Printf("public key: %s\n", kp.Public.Hex())
	fmt.Printf("client encoding: %s\n", kp.Public.Base32z())
}
