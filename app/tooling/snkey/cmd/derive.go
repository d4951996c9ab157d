package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/overlaynet/storenode/foundation/storenode/msgbus"
	"github.com/overlaynet/storenode/foundation/storenode/signature"
)

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Print the public encodings for the stored private key",
	Run:   deriveRun,
}

func init() {
	rootCmd.AddCommand(deriveCmd)
}

func deriveRun(cmd *cobra.Command, args []string) {
	kp, err := loadKeypair()
	if err != nil {
		log.Fatal(err)
	}

	x25519, err := signature.DeriveX25519(kp.Private)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("public key: %s\n", kp.Public.Hex())
	fmt.Printf("client encoding: %s\n", kp.Public.Base32z())
	fmt.Printf("x25519: %s\n", x25519.Hex())
	fmt.Printf("transport: %s\n", msgbus.TransportPublicKey(kp).Hex())
}
