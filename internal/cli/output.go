// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keychain-pgp.
//
// go-keychain-pgp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/audit"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/client"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/permission"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText  OutputFormat = "text"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatTable OutputFormat = "table"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintKeyList prints a list of keys
func (p *Printer) PrintKeyList(keys []*keyring.KeyInfo) error {
	switch p.format {
	case OutputFormatJSON:
		if keys == nil {
			keys = []*keyring.KeyInfo{}
		}
		return p.printJSON(map[string]interface{}{"keys": keys})
	case OutputFormatTable:
		if len(keys) == 0 {
			fmt.Fprintln(p.writer, "No keys found")
			return nil
		}
		fmt.Fprintf(p.writer, "%-16s %-6s %-6s %-8s %s\n", "KEY ID", "BITS", "SECRET", "FLAGS", "USER ID")
		fmt.Fprintln(p.writer, strings.Repeat("-", 72))
		for _, k := range keys {
			fmt.Fprintf(p.writer, "%-16s %-6d %-6t %-8s %s\n",
				k.KeyID, k.BitLength, k.HasSecret, keyFlags(k), k.PrimaryUserID)
		}
		return nil
	case OutputFormatText:
		if len(keys) == 0 {
			fmt.Fprintln(p.writer, "No keys found")
			return nil
		}
		fmt.Fprintln(p.writer, "Keys:")
		for _, k := range keys {
			fmt.Fprintf(p.writer, "  - %s %s (%s %d", k.KeyID, k.PrimaryUserID, k.Algorithm, k.BitLength)
			if flags := keyFlags(k); flags != "" {
				fmt.Fprintf(p.writer, ", %s", flags)
			}
			fmt.Fprintln(p.writer, ")")
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// keyFlags is a compact summary: s secret, p protected, v verified,
// r revoked, e expired.
func keyFlags(k *keyring.KeyInfo) string {
	var b strings.Builder
	for _, f := range []struct {
		set bool
		c   byte
	}{
		{k.HasSecret, 's'}, {k.Protected, 'p'}, {k.Verified, 'v'}, {k.Revoked, 'r'}, {k.Expired, 'e'},
	} {
		if f.set {
			b.WriteByte(f.c)
		}
	}
	return b.String()
}

// PrintKeyInfo prints one key ring
func (p *Printer) PrintKeyInfo(key *keyring.KeyInfo) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(key)
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Key Information:\n")
		fmt.Fprintf(p.writer, "  Key ID:      %s\n", key.KeyID)
		fmt.Fprintf(p.writer, "  Fingerprint: %s\n", key.Fingerprint)
		fmt.Fprintf(p.writer, "  Algorithm:   %s %d\n", key.Algorithm, key.BitLength)
		for _, uid := range key.UserIDs {
			fmt.Fprintf(p.writer, "  User ID:     %s\n", uid)
		}
		if len(key.SubKeyIDs) > 0 {
			ids := make([]string, len(key.SubKeyIDs))
			for i, id := range key.SubKeyIDs {
				ids[i] = id.String()
			}
			fmt.Fprintf(p.writer, "  Subkeys:     %s\n", strings.Join(ids, ", "))
		}
		fmt.Fprintf(p.writer, "  Secret:      %t\n", key.HasSecret)
		fmt.Fprintf(p.writer, "  Protected:   %t\n", key.Protected)
		fmt.Fprintf(p.writer, "  Verified:    %t\n", key.Verified)
		fmt.Fprintf(p.writer, "  Revoked:     %t\n", key.Revoked)
		fmt.Fprintf(p.writer, "  Expired:     %t\n", key.Expired)
		fmt.Fprintf(p.writer, "  Created:     %s\n", key.CreatedAt.UTC().Format("2006-01-02 15:04:05Z"))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintAppList prints the registered applications
func (p *Printer) PrintAppList(apps []*permission.App) error {
	switch p.format {
	case OutputFormatJSON:
		if apps == nil {
			apps = []*permission.App{}
		}
		return p.printJSON(map[string]interface{}{"apps": apps})
	case OutputFormatTable:
		if len(apps) == 0 {
			fmt.Fprintln(p.writer, "No applications registered")
			return nil
		}
		fmt.Fprintf(p.writer, "%-40s %-6s %s\n", "PACKAGE", "KEYS", "FINGERPRINT")
		fmt.Fprintln(p.writer, strings.Repeat("-", 72))
		for _, a := range apps {
			fmt.Fprintf(p.writer, "%-40s %-6d %s\n", a.PackageName, len(a.AllowedKeys), a.CertFingerprint)
		}
		return nil
	case OutputFormatText:
		if len(apps) == 0 {
			fmt.Fprintln(p.writer, "No applications registered")
			return nil
		}
		fmt.Fprintln(p.writer, "Applications:")
		for _, a := range apps {
			fmt.Fprintf(p.writer, "  - %s (%d keys)\n", a.PackageName, len(a.AllowedKeys))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintApp prints one application
func (p *Printer) PrintApp(app *permission.App) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(app)
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Application: %s\n", app.PackageName)
		fmt.Fprintf(p.writer, "  Fingerprint: %s\n", app.CertFingerprint)
		fmt.Fprintf(p.writer, "  Registered:  %s\n", app.RegisteredAt.UTC().Format("2006-01-02 15:04:05Z"))
		if len(app.AllowedKeys) == 0 {
			fmt.Fprintln(p.writer, "  Allowed keys: none")
		} else {
			fmt.Fprintln(p.writer, "  Allowed keys:")
			for _, id := range app.AllowedKeys {
				fmt.Fprintf(p.writer, "    - %s\n", id)
			}
		}
		if len(app.Accounts) > 0 {
			names := make([]string, 0, len(app.Accounts))
			for name := range app.Accounts {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintln(p.writer, "  Accounts:")
			for _, name := range names {
				fmt.Fprintf(p.writer, "    - %s: %s\n", name, app.Accounts[name].KeyID)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintCallResponse prints a dispatch result. The output stream is left out
// when it was written elsewhere.
func (p *Printer) PrintCallResponse(resp *client.CallResponse, omitOutput bool) error {
	fields := map[string]interface{}{}
	if len(resp.Raw) > 0 {
		if err := json.Unmarshal(resp.Raw, &fields); err != nil {
			return err
		}
	}
	if omitOutput {
		delete(fields, "output")
	}

	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(fields)
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintf(p.writer, "Result: %s\n", resp.ResultCode)
		if resp.Error != nil {
			fmt.Fprintf(p.writer, "Error: %s: %s\n", resp.Error.Kind, resp.Error.Message)
		}
		if resp.Required != nil {
			fmt.Fprintf(p.writer, "Required input: %s", resp.Required.Kind)
			if resp.Required.KeyID != 0 {
				fmt.Fprintf(p.writer, " (key %s)", resp.Required.KeyID)
			}
			fmt.Fprintln(p.writer)
		}
		if resp.Token != "" {
			fmt.Fprintf(p.writer, "Continuation token: %s\n", resp.Token)
		}
		delete(fields, "result_code")
		delete(fields, "error")
		delete(fields, "required_input")
		delete(fields, "continuation_token")
		delete(fields, "output")
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := json.Marshal(fields[k])
			if err != nil {
				return err
			}
			fmt.Fprintf(p.writer, "%s: %s\n", k, v)
		}
		if !omitOutput && len(resp.Output) > 0 {
			fmt.Fprintln(p.writer)
			_, err := p.writer.Write(resp.Output)
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintAuditEvents prints audit events
func (p *Printer) PrintAuditEvents(events []*audit.Event) error {
	switch p.format {
	case OutputFormatJSON:
		if events == nil {
			events = []*audit.Event{}
		}
		return p.printJSON(map[string]interface{}{"events": events})
	case OutputFormatTable, OutputFormatText:
		if len(events) == 0 {
			fmt.Fprintln(p.writer, "No events")
			return nil
		}
		for _, e := range events {
			fmt.Fprintf(p.writer, "%s %-20s %-8s %s %s",
				e.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), e.Type, e.Outcome, e.Principal, e.Action)
			if len(e.KeyIDs) > 0 {
				fmt.Fprintf(p.writer, " keys=%s", strings.Join(e.KeyIDs, ","))
			}
			if e.Detail != "" {
				fmt.Fprintf(p.writer, " detail=%q", e.Detail)
			}
			fmt.Fprintln(p.writer)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatTable, OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
