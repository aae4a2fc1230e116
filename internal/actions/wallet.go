package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blockhost/root-agent/internal/runner"
	"github.com/blockhost/root-agent/internal/types"
	"github.com/blockhost/root-agent/internal/validate"
)

// serviceGID resolves the configured service group to a numeric gid,
// the Go equivalent of the source's grp.getgrnam('blockhost').gr_gid.
func serviceGID(group string) (int, error) {
	g, err := user.LookupGroup(group)
	if err != nil {
		return 0, fmt.Errorf("lookup group %q: %w", group, err)
	}
	return strconv.Atoi(g.Gid)
}

func addressbookPath(deps *Deps) string {
	return filepath.Join(deps.Config.ConfigDir, "addressbook.json")
}

type addressbookEntry struct {
	Address string `json:"address"`
	Keyfile string `json:"keyfile,omitempty"`
}

func readAddressbook(path string) (map[string]addressbookEntry, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]addressbookEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	var book map[string]addressbookEntry
	if err := json.Unmarshal(raw, &book); err != nil {
		// Matches the source: a corrupt addressbook is treated as empty
		// rather than failing the whole request.
		return map[string]addressbookEntry{}, nil
	}
	return book, nil
}

func writeAddressbook(path string, book map[string]addressbookEntry, gid int) error {
	raw, err := json.MarshalIndent(book, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o640); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chown(tmp, 0, gid); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// handleGenerateWallet invokes the wallet CLI, parses its "Address:"
// and "Private key:" lines, encrypts the raw key to a keyfile under
// the config dir, and appends an addressbook entry. Only the address
// is ever returned to the caller; the private key never leaves this
// handler.
func handleGenerateWallet(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	name, err := paramString(params, "name")
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := validate.WalletName(name); err != nil {
		return types.Fail(err.Error())
	}

	keyfile := filepath.Join(deps.Config.ConfigDir, name+".key")
	if _, err := os.Stat(keyfile); err == nil {
		return types.Fail(fmt.Sprintf("key file already exists: %s", keyfile))
	}

	result, runErr := deps.Runner.Run(ctx, "generate-wallet", []string{"cast", "wallet", "new"}, 30*timeoutSecond)
	if runErr != nil {
		return types.Fail(fmt.Sprintf("cast wallet new failed: %s", firstNonEmpty(resultStderr(result), runErr.Error())))
	}

	var address, privateKey string
	for _, line := range strings.Split(result.Stdout, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Address:"):
			address = strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
		case strings.HasPrefix(strings.ToLower(line), "private key:"):
			privateKey = strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
		}
	}
	if address == "" || privateKey == "" {
		return types.Fail("failed to parse cast wallet output")
	}

	rawKey := strings.TrimPrefix(privateKey, "0x")

	gid, err := serviceGID(deps.Config.ServiceGroup)
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := os.MkdirAll(deps.Config.ConfigDir, 0o750); err != nil {
		return types.Fail(err.Error())
	}
	if err := deps.Secrets.WriteKeyfile(keyfile, []byte(rawKey), gid); err != nil {
		return types.Fail(err.Error())
	}

	abPath := addressbookPath(deps)
	book, err := readAddressbook(abPath)
	if err != nil {
		return types.Fail(err.Error())
	}
	book[name] = addressbookEntry{Address: address, Keyfile: keyfile}
	if err := writeAddressbook(abPath, book, gid); err != nil {
		return types.Fail(err.Error())
	}

	return &types.Response{OK: true, Address: address}
}

// handleAddressbookSave validates and atomically replaces the whole
// addressbook file.
func handleAddressbookSave(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	raw, ok := params["entries"]
	if !ok {
		return types.Fail("entries must be an object")
	}
	rawMap, ok := raw.(map[string]interface{})
	if !ok {
		return types.Fail("entries must be an object")
	}

	book := make(map[string]addressbookEntry, len(rawMap))
	for name, rawEntry := range rawMap {
		if validate.Name(name) != nil && validate.ShortName(name) != nil {
			return types.Fail(fmt.Sprintf("invalid entry name: %s", name))
		}
		entryMap, ok := rawEntry.(map[string]interface{})
		if !ok {
			return types.Fail(fmt.Sprintf("entry %s must be an object", name))
		}
		address, _ := entryMap["address"].(string)
		if err := validate.Address(address); err != nil {
			return types.Fail(fmt.Sprintf("invalid address for %s: %s", name, address))
		}
		keyfile, _ := entryMap["keyfile"].(string)
		if keyfile != "" && !strings.HasPrefix(keyfile, deps.Config.ConfigDir+"/") {
			return types.Fail(fmt.Sprintf("keyfile for %s must be under %s/", name, deps.Config.ConfigDir))
		}
		book[name] = addressbookEntry{Address: address, Keyfile: keyfile}
	}

	gid, err := serviceGID(deps.Config.ServiceGroup)
	if err != nil {
		return types.Fail(err.Error())
	}
	if err := os.MkdirAll(deps.Config.ConfigDir, 0o750); err != nil {
		return types.Fail(err.Error())
	}
	if err := writeAddressbook(addressbookPath(deps), book, gid); err != nil {
		return types.Fail(err.Error())
	}

	return types.OK("")
}

// handleBrokerRenew reads an existing broker allocation record and
// invokes the broker client to renew it.
func handleBrokerRenew(ctx context.Context, deps *Deps, params map[string]interface{}) *types.Response {
	allocPath := filepath.Join(deps.Config.ConfigDir, "broker-allocation.json")
	raw, err := os.ReadFile(allocPath)
	if err != nil {
		return types.Fail("no existing broker allocation found")
	}

	var alloc struct {
		NFTContract string `json:"nft_contract"`
	}
	if err := json.Unmarshal(raw, &alloc); err != nil {
		return types.Fail(fmt.Sprintf("failed to read broker allocation: %s", err))
	}
	if alloc.NFTContract == "" {
		return types.Fail("no existing broker allocation found")
	}

	deployerKey := filepath.Join(deps.Config.ConfigDir, "deployer.key")
	argv := []string{
		"broker-client", "renew",
		"--nft-contract", alloc.NFTContract,
		"--wallet-key", deployerKey,
		"--configure-wg",
	}
	result, runErr := deps.Runner.Run(ctx, "broker-renew", argv, 0)
	if runErr != nil {
		if result != nil {
			return types.Fail(firstNonEmpty(result.Stderr, result.Stdout, runErr.Error()))
		}
		return types.Fail(runErr.Error())
	}
	return types.OK(result.Stdout)
}

func resultStderr(r *runner.Result) string {
	if r == nil {
		return ""
	}
	return r.Stderr
}
