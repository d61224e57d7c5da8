// Command she-provision seeds a fresh key store's reserved slots at
// manufacturing time, before any host has set a UID: MASTER_ECU_KEY,
// BOOT_MAC_KEY, and (optionally) a PRNG seed. Keys are supplied as hex on
// the command line, or generated with a CSPRNG when --random is set.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/barnettlynn/she-hsm/internal/buildinfo"
	"github.com/barnettlynn/she-hsm/internal/nvmstore"
	"github.com/barnettlynn/she-hsm/pkg/she"
	ctrdrbg "github.com/sixafter/aes-ctr-drbg"
	chachaprng "github.com/sixafter/prng-chacha"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	dsn          string
	clientID     uint32
	masterKeyHex string
	bootMacHex   string
	seedHex      string
	random       bool
	writeProtect bool
	entropySrc   string
	batchFile    string
)

// batchManifest is the YAML shape accepted by --batch-file: one entry per
// client to provision in a single run, each field following the same rules
// as the single-client flags.
type batchManifest struct {
	Clients []batchClient `yaml:"clients"`
}

type batchClient struct {
	ClientID     uint32 `yaml:"client_id"`
	MasterECUKey string `yaml:"master_ecu_key"`
	BootMacKey   string `yaml:"boot_mac_key"`
	PRNGSeed     string `yaml:"prng_seed"`
	Random       bool   `yaml:"random"`
	WriteProtect *bool  `yaml:"write_protect"`
}

var rootCmd = &cobra.Command{
	Use:   "she-provision",
	Short: "Seed a SHE key store's reserved slots",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&dsn, "dsn", "she.db", "key store DSN (sqlite path or postgres:// URL)")
	flags.Uint32Var(&clientID, "client-id", 1, "client identifier to provision")
	flags.StringVar(&masterKeyHex, "master-ecu-key", "", "32 hex chars for SECRET_KEY (slot 0)")
	flags.StringVar(&bootMacHex, "boot-mac-key", "", "32 hex chars for BOOT_MAC_KEY (slot 1)")
	flags.StringVar(&seedHex, "prng-seed", "", "32 hex chars for the PRNG seed (slot 3)")
	flags.BoolVar(&random, "random", false, "generate any unset key material from a CSPRNG instead of erroring")
	flags.BoolVar(&writeProtect, "write-protect", true, "set the write-protect flag on SECRET_KEY and BOOT_MAC_KEY")
	flags.StringVar(&entropySrc, "source", "aes-ctr-drbg", "CSPRNG backing --random: aes-ctr-drbg or chacha20")
	flags.StringVar(&batchFile, "batch-file", "", "YAML manifest provisioning multiple clients in one run; overrides the single-client flags")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the she-provision version",
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

func run(*cobra.Command, []string) error {
	store, err := nvmstore.Open(dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	drbg, err := newEntropySource(entropySrc)
	if err != nil {
		return fmt.Errorf("she-provision: init entropy source: %w", err)
	}

	if batchFile != "" {
		return runBatch(store, drbg)
	}

	wp := writeProtect
	return provisionClient(store, drbg, batchClient{
		ClientID:     clientID,
		MasterECUKey: masterKeyHex,
		BootMacKey:   bootMacHex,
		PRNGSeed:     seedHex,
		Random:       random,
		WriteProtect: &wp,
	})
}

func runBatch(store *nvmstore.Store, drbg io.Reader) error {
	raw, err := os.ReadFile(batchFile)
	if err != nil {
		return fmt.Errorf("she-provision: read batch file: %w", err)
	}
	var manifest batchManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return fmt.Errorf("she-provision: parse batch file: %w", err)
	}
	for _, c := range manifest.Clients {
		if err := provisionClient(store, drbg, c); err != nil {
			return fmt.Errorf("she-provision: client %d: %w", c.ClientID, err)
		}
	}
	fmt.Printf("provisioned %d clients from %s into %s\n", len(manifest.Clients), batchFile, dsn)
	return nil
}

func provisionClient(store *nvmstore.Store, drbg io.Reader, c batchClient) error {
	masterKey, err := resolveKey(c.MasterECUKey, c.Random, drbg)
	if err != nil {
		return fmt.Errorf("master-ecu-key: %w", err)
	}
	bootMacKey, err := resolveKey(c.BootMacKey, c.Random, drbg)
	if err != nil {
		return fmt.Errorf("boot-mac-key: %w", err)
	}

	var flags uint16
	if c.WriteProtect == nil || *c.WriteProtect {
		flags = she.FlagWriteProtect
	}

	ctx := context.Background()
	if err := store.Provision(ctx, c.ClientID, she.SlotSecretKey, masterKey, flags); err != nil {
		return fmt.Errorf("provisioning SECRET_KEY: %w", err)
	}
	if err := store.Provision(ctx, c.ClientID, she.SlotBootMacKey, bootMacKey, flags); err != nil {
		return fmt.Errorf("provisioning BOOT_MAC_KEY: %w", err)
	}

	if c.PRNGSeed != "" || c.Random {
		seed, err := resolveKey(c.PRNGSeed, c.Random, drbg)
		if err != nil {
			return fmt.Errorf("prng-seed: %w", err)
		}
		if err := store.Provision(ctx, c.ClientID, she.SlotPRNGSeed, seed, 0); err != nil {
			return fmt.Errorf("provisioning PRNG seed: %w", err)
		}
	}

	if batchFile == "" {
		fmt.Printf("provisioned client %d in %s\n", c.ClientID, dsn)
	}
	return nil
}

// newEntropySource selects the CSPRNG backing --random. aes-ctr-drbg is the
// default; chacha20 is offered as an alternative for sites that prefer to
// diversify away from AES-based entropy for key generation specifically
// (the protocol's own crypto stays AES regardless).
func newEntropySource(name string) (io.Reader, error) {
	switch name {
	case "chacha20":
		return chachaprng.NewReader()
	case "aes-ctr-drbg", "":
		return ctrdrbg.NewReader()
	default:
		return nil, fmt.Errorf("unknown entropy source %q", name)
	}
}

// resolveKey decodes hexKey if non-empty, otherwise draws 16 bytes from drbg
// when allowRandom was requested, and errors otherwise.
func resolveKey(hexKey string, allowRandom bool, drbg io.Reader) ([she.KeySize]byte, error) {
	var out [she.KeySize]byte
	if hexKey != "" {
		raw, err := hex.DecodeString(hexKey)
		if err != nil {
			return out, fmt.Errorf("invalid hex: %w", err)
		}
		if len(raw) != she.KeySize {
			return out, fmt.Errorf("expected %d bytes, got %d", she.KeySize, len(raw))
		}
		copy(out[:], raw)
		return out, nil
	}
	if !allowRandom {
		return out, fmt.Errorf("no key material given and random generation not requested")
	}
	raw := make([]byte, she.KeySize)
	if _, err := drbg.Read(raw); err != nil {
		return out, fmt.Errorf("drbg read: %w", err)
	}
	copy(out[:], raw)
	return out, nil
}
