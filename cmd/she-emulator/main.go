// Command she-emulator drives a she.Dispatcher from line-oriented stdin
// commands, for manual protocol exploration without a real transport.
// Each line is "CMD_NAME hex-payload"; the reply is printed as
// "rc=NAME payload=hex".
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/barnettlynn/she-hsm/internal/buildinfo"
	"github.com/barnettlynn/she-hsm/internal/memstore"
	"github.com/barnettlynn/she-hsm/pkg/she"
	"github.com/spf13/cobra"
)

var clientID uint32

var rootCmd = &cobra.Command{
	Use:   "she-emulator",
	Short: "Interactive line-oriented SHE dispatcher harness",
	RunE:  run,
}

func init() {
	rootCmd.Flags().Uint32Var(&clientID, "client-id", 1, "client identifier for this session")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the she-emulator version",
		Run: func(*cobra.Command, []string) {
			fmt.Println(buildinfo.String())
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var commandNames = map[string]she.Command{
	"SET_UID":           she.CmdSetUID,
	"SECURE_BOOT_INIT":  she.CmdSecureBootInit,
	"SECURE_BOOT_UPDATE": she.CmdSecureBootUpdate,
	"SECURE_BOOT_FINISH": she.CmdSecureBootFinish,
	"GET_STATUS":        she.CmdGetStatus,
	"LOAD_KEY":          she.CmdLoadKey,
	"LOAD_PLAIN_KEY":    she.CmdLoadPlainKey,
	"EXPORT_RAM_KEY":    she.CmdExportRAMKey,
	"INIT_RND":          she.CmdInitRND,
	"RND":               she.CmdRND,
	"EXTEND_SEED":       she.CmdExtendSeed,
	"ENC_ECB":           she.CmdEncECB,
	"ENC_CBC":           she.CmdEncCBC,
	"DEC_ECB":           she.CmdDecECB,
	"DEC_CBC":           she.CmdDecCBC,
	"GEN_MAC":           she.CmdGenMAC,
	"VERIFY_MAC":        she.CmdVerifyMAC,
}

func run(*cobra.Command, []string) error {
	store := memstore.New()
	dispatcher := she.NewDispatcher(store, nil)
	session := she.NewSession(clientID)
	ctx := context.Background()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		name := fields[0]
		var payloadHex string
		if len(fields) > 1 {
			payloadHex = fields[1]
		}

		cmd, ok := commandNames[name]
		if !ok {
			fmt.Printf("error=unknown command %q\n", name)
			continue
		}
		payload, err := hex.DecodeString(payloadHex)
		if err != nil {
			fmt.Printf("error=bad hex payload: %v\n", err)
			continue
		}
		if payload == nil {
			payload = []byte{}
		}

		rc, reply, err := dispatcher.Handle(ctx, session, cmd, payload)
		if err != nil {
			fmt.Printf("error=%v\n", err)
			continue
		}
		fmt.Printf("rc=%s payload=%s\n", rc, hex.EncodeToString(reply))
	}
	return scanner.Err()
}
