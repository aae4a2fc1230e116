// Command root-agent-migrate normalizes an on-disk root-agentd config
// file that still uses legacy key spellings into the canonical schema:
// vmid_pool -> vmid_range, and ip_pool bounds given as dotted-quad
// strings -> bare last-octet integers. Grounded on vm_db.py's
// _normalize_config/_normalize_ip_pool and on the teacher's
// cmd/warren-migrate's flag/backup/dry-run shape.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var (
	dataDir    = flag.String("data-dir", "/etc/blockhost", "Directory containing db.yaml")
	dryRun     = flag.Bool("dry-run", false, "Show what would change without writing")
	backupPath = flag.String("backup", "", "Path to back up the config before migration (default: <config>.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("root-agent config migration tool - legacy key normalization")
	log.Println("=============================================================")

	configPath := filepath.Join(*dataDir, "db.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config not found at %s", configPath)
	}

	log.Printf("Config: %s", configPath)
	log.Printf("Dry run: %v", *dryRun)

	raw, err := os.ReadFile(configPath)
	if err != nil {
		log.Fatalf("read config: %v", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		log.Fatalf("parse config: %v", err)
	}

	changed := normalize(doc)

	if !changed {
		log.Println("Config already uses canonical key spellings - nothing to do")
		return
	}

	if *dryRun {
		log.Println("\n[DRY RUN] The following keys would change:")
		printDoc(doc)
		log.Println("\nRun without --dry-run to apply.")
		return
	}

	backupFile := *backupPath
	if backupFile == "" {
		backupFile = configPath + ".backup"
	}
	log.Printf("Creating backup: %s", backupFile)
	if err := os.WriteFile(backupFile, raw, 0o600); err != nil {
		log.Fatalf("create backup: %v", err)
	}
	log.Println("backup created")

	out, err := yaml.Marshal(doc)
	if err != nil {
		log.Fatalf("marshal normalized config: %v", err)
	}
	if err := os.WriteFile(configPath, out, 0o600); err != nil {
		log.Fatalf("write normalized config: %v", err)
	}

	log.Println("\nmigration completed successfully")
}

// normalize mutates doc in place, folding vmid_pool into vmid_range and
// rewriting ip_pool start/end bounds from dotted-quad strings into bare
// last-octet integers. Reports whether anything changed.
func normalize(doc map[string]interface{}) bool {
	changed := false

	if _, hasRange := doc["vmid_range"]; !hasRange {
		if pool, hasPool := doc["vmid_pool"]; hasPool {
			doc["vmid_range"] = pool
			delete(doc, "vmid_pool")
			changed = true
		}
	}

	if rawPool, ok := doc["ip_pool"].(map[string]interface{}); ok {
		if normalizeBound(rawPool, "start") {
			changed = true
		}
		if normalizeBound(rawPool, "end") {
			changed = true
		}
	}

	return changed
}

// normalizeBound rewrites pool[key] from a dotted-quad string (e.g.
// "192.168.122.200") to its bare last-octet integer (200), matching
// vm_db.py's _normalize_ip_pool. Returns whether it rewrote anything.
func normalizeBound(pool map[string]interface{}, key string) bool {
	s, ok := pool[key].(string)
	if !ok {
		return false
	}
	last := s
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			last = s[i+1:]
			break
		}
	}
	var n int
	if _, err := fmt.Sscanf(last, "%d", &n); err != nil {
		return false
	}
	pool[key] = n
	return true
}

func printDoc(doc map[string]interface{}) {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return
	}
	fmt.Println(string(out))
}
