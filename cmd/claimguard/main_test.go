package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

const cliClaim = `{
	"claim_id": "%s",
	"patient": {"dob": "1980-03-15", "gender": "F", "insurance_id": "INS-1"},
	"provider": {"npi": "1234567890", "specialty": "Radiology"},
	"service_date": "2025-06-01",
	"diagnosis_codes": ["M54.5"],
	"procedure_codes": [{"cpt": "72100", "modifiers": %s, "units": 1, "charge": 120}],
	"total_charge": 120
}`

func claimJSON(id, modifiers string) string {
	return strings.Replace(strings.Replace(cliClaim, "%s", id, 1), "%s", modifiers, 1)
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "claimguard dev") {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "ref.db")

	t.Run("SingleClaim", func(t *testing.T) {
		file := writeFile(t, dir, "one.json", claimJSON("CLI-1", `[]`))
		out, err := runCLI(t, "validate", "--file", file, "--reference-db", db, "--rules-dir", dir)
		if err != nil {
			t.Fatalf("validate failed: %v", err)
		}
		var result domain.ValidationResult
		if err := json.Unmarshal([]byte(out), &result); err != nil {
			t.Fatalf("output is not a result: %v\n%s", err, out)
		}
		if result.ClaimID != "CLI-1" || result.OverallStatus != domain.StatusPassed {
			t.Errorf("unexpected result: %+v", result)
		}
		// No rule tables in dir, so they are reported missing.
		if len(result.Reference) != 5 {
			t.Errorf("expected reference status on the result, got %+v", result.Reference)
		}
	})

	t.Run("BatchKeepsOrderAndIsolatesFailures", func(t *testing.T) {
		batch := "[" + claimJSON("CLI-2", `[]`) + `, {"claim_id": "CLI-3"}, ` + claimJSON("CLI-4", `["TC","26"]`) + "]"
		file := writeFile(t, dir, "batch.json", batch)

		out, err := runCLI(t, "validate", "-f", file, "--reference-db", db, "--rules-dir", dir)
		if err != nil {
			t.Fatalf("validate failed: %v", err)
		}
		var result domain.BatchResult
		if err := json.Unmarshal([]byte(out), &result); err != nil {
			t.Fatalf("output is not a batch result: %v\n%s", err, out)
		}
		if result.Total != 3 || result.Successful != 2 || result.Failed != 1 {
			t.Fatalf("expected 3/2/1, got %d/%d/%d", result.Total, result.Successful, result.Failed)
		}
		ids := []string{result.Items[0].ClaimID, result.Items[1].ClaimID, result.Items[2].ClaimID}
		if strings.Join(ids, ",") != "CLI-2,CLI-3,CLI-4" {
			t.Errorf("items out of order: %v", ids)
		}
		if result.Items[1].Status != domain.BatchFailed || result.Items[1].Error == "" {
			t.Errorf("expected CLI-3 to fail intake, got %+v", result.Items[1])
		}
		if result.Items[2].Result.OverallStatus != domain.StatusRejected {
			t.Errorf("expected CLI-4 rejected, got %s", result.Items[2].Result.OverallStatus)
		}
	})

	t.Run("FailOnReject", func(t *testing.T) {
		file := writeFile(t, dir, "rejected.json", claimJSON("CLI-5", `["TC","26"]`))
		_, err := runCLI(t, "validate", "--file", file, "--reference-db", db, "--rules-dir", dir, "--fail-on-reject")
		if !errors.Is(err, errRejected) {
			t.Errorf("expected errRejected, got %v", err)
		}
	})

	t.Run("InvalidClaim", func(t *testing.T) {
		file := writeFile(t, dir, "bad.json", `{"claim_id": "CLI-6"}`)
		if _, err := runCLI(t, "validate", "--file", file, "--reference-db", db, "--rules-dir", dir); err == nil {
			t.Error("expected intake error")
		}
	})

	t.Run("FileRequired", func(t *testing.T) {
		if _, err := runCLI(t, "validate"); err == nil {
			t.Error("expected error without --file")
		}
	})
}

func TestSeedCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLAIMGUARD_DB_PATH", filepath.Join(dir, "seed.db"))

	writeFile(t, dir, "cpt_codes.csv", "code,description,category,avg_charge,time_minutes,complexity_level,requires_diagnosis\n"+
		"99213,Office visit,E/M,110,15,low,true\n"+
		"72100,X-ray lumbar spine,Radiology,95,,,true\n")
	writeFile(t, dir, "icd10_codes.csv", "code,description,category,gender_restriction,age_min,age_max\n"+
		"M54.5,Low back pain,Musculoskeletal,,,\n")
	rulesFile := writeFile(t, dir, "policy.json", `[{"id":"cap","name":"Charge cap","expression":"total_charge > 5000.0","severity":"high","enabled":true}]`)

	out, err := runCLI(t, "seed", "--data", dir, "--policy-rules", rulesFile)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	var resp struct {
		Catalogs    map[string]int `json:"catalogs"`
		PolicyRules int            `json:"policy_rules"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("unexpected output: %v\n%s", err, out)
	}
	if resp.Catalogs["cpt_codes"] != 2 || resp.Catalogs["icd10_codes"] != 1 || resp.Catalogs["ncci_edits"] != 0 {
		t.Errorf("unexpected counts: %v", resp.Catalogs)
	}
	if resp.PolicyRules != 1 {
		t.Errorf("expected 1 policy rule, got %d", resp.PolicyRules)
	}

	t.Run("RejectsBadPolicyFile", func(t *testing.T) {
		bad := writeFile(t, dir, "bad-policy.json", `[{"id":"x","name":"X","expression":"total_charge +"}]`)
		if _, err := runCLI(t, "seed", "--data", dir, "--policy-rules", bad); err == nil {
			t.Error("expected compile error")
		}
	})
}

func TestBenchMetrics(t *testing.T) {
	m := &benchMetrics{confusion: make(map[string]map[string]int)}
	m.record(domain.StatusRejected, domain.StatusRejected, 3*time.Millisecond)
	m.record(domain.StatusFlagged, domain.StatusPassed, 1*time.Millisecond)
	m.record(domain.StatusPassed, domain.StatusFlagged, 2*time.Millisecond)
	m.record(domain.StatusPassed, domain.StatusPassed, 4*time.Millisecond)

	if m.TruePositives != 1 || m.FalseNegatives != 1 || m.FalsePositives != 1 || m.TrueNegatives != 1 {
		t.Errorf("unexpected counts: tp=%d fn=%d fp=%d tn=%d", m.TruePositives, m.FalseNegatives, m.FalsePositives, m.TrueNegatives)
	}
	if m.confusion[domain.StatusFlagged][domain.StatusPassed] != 1 {
		t.Errorf("unexpected confusion matrix: %v", m.confusion)
	}

	var buf bytes.Buffer
	printBenchResults(&buf, m, time.Second)
	if !strings.Contains(buf.String(), "Precision:       0.5000") {
		t.Errorf("unexpected report:\n%s", buf.String())
	}
	if got := percentile([]time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 4 * time.Millisecond}, 0.5); got != 2*time.Millisecond {
		t.Errorf("expected p50 of 2ms, got %v", got)
	}
}
