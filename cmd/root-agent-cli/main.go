package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/blockhost/root-agent/internal/config"
	"github.com/blockhost/root-agent/internal/events"
	"github.com/blockhost/root-agent/internal/ledger"
	"github.com/blockhost/root-agent/internal/types"
	"github.com/blockhost/root-agent/pkg/client"
	"github.com/blockhost/root-agent/pkg/log"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "root-agent-cli",
	Short:   "Operator CLI for the root-agent broker socket",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("socket", client.DefaultSocketPath, "root-agentd socket path")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "per-call timeout")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(qmCmd, ip6Cmd, bridgeCmd, iptablesCmd, virtCustomizeCmd, walletCmd,
		addressbookCmd, brokerCmd, eventsCmd, ledgerCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	log.Init(log.Config{Level: log.Level(level)})
}

func dial(cmd *cobra.Command) *client.Client {
	socket, _ := cmd.Flags().GetString("socket")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return client.New(socket, timeout)
}

func printResponse(resp *types.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s", resp.Error)
	}
	if resp.Output != "" {
		fmt.Println(resp.Output)
	}
	if resp.Address != "" {
		fmt.Printf("address: %s\n", resp.Address)
	}
	return nil
}

func vmidArg(s string) (int, error) {
	return strconv.Atoi(s)
}

// qm commands: start/stop/shutdown/destroy/template take a single VMID arg.

var qmCmd = &cobra.Command{Use: "qm", Short: "VM lifecycle actions"}

func qmSimple(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " VMID",
		Short: "Dispatch qm-" + action,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vmid, err := vmidArg(args[0])
			if err != nil {
				return fmt.Errorf("invalid vmid: %w", err)
			}
			c := dial(cmd)
			return printResponse(c.Call("qm-"+action, map[string]interface{}{"vmid": vmid}))
		},
	}
}

var qmSetCmd = &cobra.Command{
	Use:   "set VMID KEY=VALUE [KEY=VALUE...]",
	Short: "Dispatch qm-set with one or more hypervisor options",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vmid, err := vmidArg(args[0])
		if err != nil {
			return fmt.Errorf("invalid vmid: %w", err)
		}
		options := map[string]interface{}{}
		for _, kv := range args[1:] {
			idx := strings.IndexByte(kv, '=')
			if idx == -1 {
				return fmt.Errorf("expected KEY=VALUE, got %q", kv)
			}
			options[kv[:idx]] = kv[idx+1:]
		}
		c := dial(cmd)
		return printResponse(c.Call("qm-set", map[string]interface{}{"vmid": vmid, "options": options}))
	},
}

func init() {
	qmCmd.AddCommand(
		qmSimple("start"),
		qmSimple("stop"),
		qmSimple("shutdown"),
		qmSimple("destroy"),
		qmSimple("template"),
		qmSetCmd,
	)
}

// ip6 commands

var ip6Cmd = &cobra.Command{Use: "ip6", Short: "IPv6 host route actions"}

func ip6RouteCmd(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " ADDRESS DEV",
		Short: "Dispatch ip6-route-" + action,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := dial(cmd)
			return printResponse(c.Call("ip6-route-"+action, map[string]interface{}{
				"address": args[0], "dev": args[1],
			}))
		},
	}
}

func init() {
	ip6Cmd.AddCommand(ip6RouteCmd("add"), ip6RouteCmd("del"))
}

// bridge commands

var bridgeCmd = &cobra.Command{
	Use:   "bridge-port-isolate DEV",
	Short: "Dispatch bridge-port-isolate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := dial(cmd)
		return printResponse(c.Call("bridge-port-isolate", map[string]interface{}{"dev": args[0]}))
	},
}

// iptables commands

var iptablesCmd = &cobra.Command{Use: "iptables", Short: "Host firewall rule actions"}

func iptablesRuleCmd(action string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   action + " PORT PROTO COMMENT",
		Short: "Dispatch iptables-" + action,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port: %w", err)
			}
			c := dial(cmd)
			return printResponse(c.Call("iptables-"+action, map[string]interface{}{
				"port": port, "proto": args[1], "comment": args[2],
			}))
		},
	}
	return cmd
}

func init() {
	iptablesCmd.AddCommand(iptablesRuleCmd("open"), iptablesRuleCmd("close"))
}

// virt-customize

var virtCustomizeCmd = &cobra.Command{
	Use:   "virt-customize IMAGE_PATH OP [ARGS...]",
	Short: "Dispatch virt-customize with a single sub-command",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sub := make([]interface{}, 0, len(args)-1)
		for _, a := range args[1:] {
			sub = append(sub, a)
		}
		c := dial(cmd)
		return printResponse(c.Call("virt-customize", map[string]interface{}{
			"image_path": args[0],
			"commands":   []interface{}{sub},
		}))
	},
}

// wallet

var walletCmd = &cobra.Command{Use: "wallet", Short: "Wallet key material actions"}

var walletGenerateCmd = &cobra.Command{
	Use:   "generate NAME",
	Short: "Dispatch generate-wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := dial(cmd)
		return printResponse(c.Call("generate-wallet", map[string]interface{}{"name": args[0]}))
	},
}

func init() {
	walletCmd.AddCommand(walletGenerateCmd)
}

// addressbook

var addressbookCmd = &cobra.Command{
	Use:   "addressbook-save FILE",
	Short: "Dispatch addressbook-save with entries read from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read entries file: %w", err)
		}
		var entries map[string]interface{}
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("parse entries file: %w", err)
		}
		c := dial(cmd)
		return printResponse(c.Call("addressbook-save", map[string]interface{}{"entries": entries}))
	},
}

// broker-renew

var brokerCmd = &cobra.Command{
	Use:   "broker-renew",
	Short: "Dispatch broker-renew",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := dial(cmd)
		return printResponse(c.Call("broker-renew", map[string]interface{}{}))
	},
}

// events tail

var eventsCmd = &cobra.Command{Use: "events", Short: "Inspect the daemon's live event stream"}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream dispatch events from the daemon until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := dial(cmd)
		return c.TailEvents(func(ev events.Event) {
			ts := time.Now().Format(time.RFC3339)
			fmt.Printf("%s %-14s action=%s ok=%v", ts, ev.Type, ev.Action, ev.OK)
			if ev.Error != "" {
				fmt.Printf(" error=%q", ev.Error)
			}
			fmt.Println()
		})
	},
}

func init() {
	eventsCmd.AddCommand(eventsTailCmd)
}

// ledger {list,show,gc} — read-only inspection of the on-disk ledger,
// opened directly since it is just a flock-guarded JSON file; no
// socket round trip is needed for a read.

var ledgerCmd = &cobra.Command{Use: "ledger", Short: "Inspect the VM allocation ledger"}

func openLedger(cmd *cobra.Command) (ledger.Ledger, *config.Config, error) {
	service, _ := cmd.Flags().GetString("service")
	if service == "" {
		service = "blockhost"
	}
	cfg := config.Default(service)
	vmidRange := types.VMIDRange{Start: cfg.VMIDRange.Start, End: cfg.VMIDRange.End}
	l, err := ledger.NewFileLedger(cfg.LedgerFile, vmidRange, types.IPPool{}, types.IPv6Pool{})
	return l, cfg, err
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all VMs in the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, _, err := openLedger(cmd)
		if err != nil {
			return err
		}
		vms := l.ListVMs()
		if len(vms) == 0 {
			fmt.Println("No VMs in ledger")
			return nil
		}
		fmt.Printf("%-20s %-8s %-16s %-10s %s\n", "NAME", "VMID", "IP", "STATUS", "EXPIRES")
		for _, vm := range vms {
			fmt.Printf("%-20s %-8d %-16s %-10s %s\n", vm.Name, vm.VMID, vm.IPAddress, vm.Status, vm.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	},
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show full ledger detail for a single VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		l, _, err := openLedger(cmd)
		if err != nil {
			return err
		}
		vm, ok := l.GetVM(args[0])
		if !ok {
			return fmt.Errorf("vm %q not found", args[0])
		}
		raw, _ := json.MarshalIndent(vm, "", "  ")
		fmt.Println(string(raw))
		return nil
	},
}

var ledgerGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "List VMs eligible for suspend/destroy under the reconciler's policy (read-only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, cfg, err := openLedger(cmd)
		if err != nil {
			return err
		}
		now := time.Now()
		suspend := l.GetVMsToSuspend(now)
		destroy := l.GetVMsToDestroy(now, cfg.Reconciler.GraceDays)

		fmt.Printf("Eligible for suspend (%d):\n", len(suspend))
		for _, vm := range suspend {
			fmt.Printf("  %s (expired %s)\n", vm.Name, vm.ExpiresAt.Format(time.RFC3339))
		}
		fmt.Printf("Eligible for destroy (%d):\n", len(destroy))
		for _, vm := range destroy {
			fmt.Printf("  %s (suspended %s)\n", vm.Name, vm.SuspendedAt.Format(time.RFC3339))
		}
		fmt.Println("\nThis is a read-only preview; the reconciler actually dispatches qm-shutdown/qm-destroy.")
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{ledgerListCmd, ledgerShowCmd, ledgerGCCmd} {
		cmd.Flags().String("service", "blockhost", "Service name; derives the default ledger path")
	}
	ledgerCmd.AddCommand(ledgerListCmd, ledgerShowCmd, ledgerGCCmd)
}
