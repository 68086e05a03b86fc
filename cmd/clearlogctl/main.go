package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/keyring"
	"github.com/ClearlogHQ/clearlog/internal/record"
	"github.com/ClearlogHQ/clearlog/internal/signing"
	"github.com/ClearlogHQ/clearlog/pkg/api"
	"github.com/ClearlogHQ/clearlog/pkg/types"
)

const defaultKeyLabel = "default"

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: clearlogctl <command> [args]

Commands:
  publish <package-id> <version> <file>   release a package version
  fetch <package-id>                      fetch a package log's records
  key set <label>                         generate and store a signing key
  key get <label>                         print a stored key's public half
  key delete <label>                      delete a stored signing key
  reset                                   delete the local keyring

Environment:
  CLEARLOG_REGISTRY   registry base URL (default http://localhost:8080)
  CLEARLOG_KEYRING    keyring path (default ~/.clearlog/keyring.json)
`)
	os.Exit(2)
}

func registryURL() string {
	if u := os.Getenv("CLEARLOG_REGISTRY"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func keyringPath() string {
	if p := os.Getenv("CLEARLOG_KEYRING"); p != "" {
		return p
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./keyring.json"
	}
	return filepath.Join(home, ".clearlog", "keyring.json")
}

func openKeyring() keyring.Keyring {
	ring, err := keyring.NewFileKeyring(keyringPath())
	if err != nil {
		log.Fatalf("Failed to open keyring: %v", err)
	}
	return ring
}

func openClient(ring keyring.Keyring) *api.Client {
	client := api.NewClient(registryURL())
	if token, err := ring.AuthToken(registryURL()); err == nil {
		client.SetAuthToken(token)
	}
	return client
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	switch args[0] {
	case "publish":
		cmdPublish(args[1:])
	case "fetch":
		cmdFetch(args[1:])
	case "key":
		cmdKey(args[1:])
	case "reset":
		cmdReset()
	default:
		usage()
	}
}

// cmdPublish signs and submits a release record, uploading the content
// first so the record validates immediately.
func cmdPublish(args []string) {
	if len(args) != 3 {
		usage()
	}
	packageID, versionStr, file := args[0], args[1], args[2]

	version, err := semver.StrictNewVersion(versionStr)
	if err != nil {
		log.Fatalf("Invalid version %q: %v", versionStr, err)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", file, err)
	}
	contentDigest := hash.New(data)

	ring := openKeyring()
	defer ring.Close()

	keyPair, err := ring.SigningKey(defaultKeyLabel)
	if err != nil {
		log.Fatalf("No signing key; run \"clearlogctl key set %s\" first: %v", defaultKeyLabel, err)
	}

	client := openClient(ring)
	ctx := context.Background()

	// Upload content before submitting so validation is immediate
	if _, err := client.UploadContent(ctx, contentDigest.String(), data); err != nil {
		log.Fatalf("Failed to upload content: %v", err)
	}

	// Build the record against the current head of the log
	entries := []record.PackageEntry{
		record.PackageRelease{Version: version, ContentDigest: contentDigest},
	}

	prev, known := packageHead(ctx, client, packageID)
	if !known {
		entries = append([]record.PackageEntry{
			record.PackageInit{HashAlgorithm: hash.AlgorithmSHA256, Key: keyPair.Public},
		}, entries...)
	}

	envelope, err := record.SignPackageRecord(keyPair.Signer(), &record.PackageRecord{
		Prev:      prev,
		Version:   record.PackageRecordVersion,
		Timestamp: time.Now(),
		Entries:   entries,
	})
	if err != nil {
		log.Fatalf("Failed to sign record: %v", err)
	}

	resp, err := client.SubmitPackageRecord(ctx, packageID, &types.SubmitRecordRequest{
		Envelope: types.EnvelopeWire{
			ContentBytes: envelope.ContentBytes,
			KeyID:        string(envelope.KeyID),
			Signature:    envelope.Signature.String(),
		},
	})
	if err != nil {
		log.Fatalf("Submission failed: %v", err)
	}

	fmt.Printf("Published %s %s (record %s, status %s)\n", packageID, version, resp.RecordID, resp.Status)
}

// packageHead finds the head record of a package log via the latest
// checkpoint, or reports that the log does not exist yet.
func packageHead(ctx context.Context, client *api.Client, packageID string) (*hash.Digest, bool) {
	checkpoint, err := client.LatestCheckpoint(ctx)
	if err != nil {
		return nil, false
	}

	records, err := client.FetchPackageRecords(ctx, packageID, "", checkpoint.LogLength, 0)
	if err != nil || len(records.Records) == 0 {
		return nil, false
	}

	last := records.Records[len(records.Records)-1]
	head := hash.New(last.ContentBytes)
	return &head, true
}

func cmdFetch(args []string) {
	if len(args) != 1 {
		usage()
	}
	packageID := args[0]

	ring := openKeyring()
	defer ring.Close()
	client := openClient(ring)
	ctx := context.Background()

	checkpoint, err := client.LatestCheckpoint(ctx)
	if err != nil {
		log.Fatalf("Failed to fetch checkpoint: %v", err)
	}

	records, err := client.FetchPackageRecords(ctx, packageID, "", checkpoint.LogLength, 0)
	if err != nil {
		log.Fatalf("Failed to fetch records: %v", err)
	}

	for _, wire := range records.Records {
		decoded, err := record.DecodePackageRecord(wire.ContentBytes)
		if err != nil {
			log.Fatalf("Failed to decode record: %v", err)
		}

		out, _ := json.MarshalIndent(map[string]interface{}{
			"recordId":  hash.New(wire.ContentBytes).String(),
			"timestamp": decoded.Timestamp,
			"entries":   len(decoded.Entries),
		}, "", "  ")
		fmt.Println(string(out))
	}

	fmt.Printf("%d records (checkpoint length %d)\n", len(records.Records), checkpoint.LogLength)
}

func cmdKey(args []string) {
	if len(args) < 2 {
		usage()
	}

	ring := openKeyring()
	defer ring.Close()

	label := args[1]

	switch args[0] {
	case "set":
		seed := make([]byte, signing.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			log.Fatalf("Failed to generate seed: %v", err)
		}
		if err := ring.SetSigningKey(label, seed); err != nil {
			log.Fatalf("Failed to store key: %v", err)
		}

		keyPair, err := ring.SigningKey(label)
		if err != nil {
			log.Fatalf("Failed to load stored key: %v", err)
		}
		fmt.Printf("Stored key %q with id %s\n", label, keyPair.Public.ID())
		fmt.Printf("Seed (back this up): %s\n", base64.StdEncoding.EncodeToString(seed))

	case "get":
		keyPair, err := ring.SigningKey(label)
		if err != nil {
			log.Fatalf("Failed to load key: %v", err)
		}
		fmt.Printf("%s\n", keyPair.Public.String())
		fmt.Printf("key id: %s\n", keyPair.Public.ID())

	case "delete":
		if err := ring.DeleteSigningKey(label); err != nil {
			log.Fatalf("Failed to delete key: %v", err)
		}
		fmt.Printf("Deleted key %q\n", label)

	default:
		usage()
	}
}

func cmdReset() {
	if err := os.Remove(keyringPath()); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to remove keyring: %v", err)
	}
	fmt.Println("Keyring removed")
}
