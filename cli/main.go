package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	gatewayURL string
	Version    = "dev"
)

type Device struct {
	UUID              string    `json:"UUID"`
	Name              string    `json:"Name"`
	Sector            int       `json:"Sector"`
	LastCommunication time.Time `json:"LastCommunication"`
}

type Reading struct {
	DeviceUUID string    `json:"DeviceUUID"`
	Parameter  string    `json:"Parameter"`
	Value      int       `json:"Value"`
	UpdatedAt  time.Time `json:"UpdatedAt"`
}

type HistoryRow struct {
	Parameter  string    `json:"Parameter"`
	Value      int       `json:"Value"`
	RecordedAt time.Time `json:"RecordedAt"`
}

type Rule struct {
	ID               uint   `json:"ID"`
	SourceDeviceUUID string `json:"SourceDeviceUUID"`
	SourceParameter  string `json:"SourceParameter"`
	Condition        string `json:"Condition"`
	Threshold        int    `json:"Threshold"`
	TargetDeviceUUID string `json:"TargetDeviceUUID"`
	Message          string `json:"Message"`
	Active           bool   `json:"Active"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "hothouse",
		Short: "Hothouse - greenhouse gateway administration",
		Long:  "Inspect devices and readings and manage automation rules on a Hothouse gateway",
	}

	rootCmd.PersistentFlags().StringVarP(&gatewayURL, "gateway", "g", "http://localhost:8080", "Gateway admin API URL")

	rootCmd.AddCommand(
		statusCmd(),
		devicesCmd(),
		deviceCmd(),
		historyCmd(),
		rulesCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show fleet status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var devices []Device
			if err := getJSON("/v1/devices", &devices); err != nil {
				return err
			}

			online := 0
			for _, d := range devices {
				if time.Since(d.LastCommunication) < time.Minute {
					online++
				}
			}

			fmt.Printf("Hothouse Status\n")
			fmt.Printf("===============\n\n")
			fmt.Printf("Registered devices:  %d\n", len(devices))
			fmt.Printf("Seen in last minute: %d\n", online)
			return nil
		},
	}
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "devices",
		Aliases: []string{"ls", "list"},
		Short:   "List registered devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			var devices []Device
			if err := getJSON("/v1/devices", &devices); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "UUID\tNAME\tSECTOR\tLAST SEEN")
			fmt.Fprintln(w, "----\t----\t------\t---------")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s ago\n",
					d.UUID, d.Name, d.Sector, time.Since(d.LastCommunication).Round(time.Second))
			}
			w.Flush()
			return nil
		},
	}
}

func deviceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "device [uuid]",
		Short: "Show a device and its current readings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var detail struct {
				Device   Device    `json:"device"`
				Readings []Reading `json:"readings"`
			}
			if err := getJSON("/v1/devices/"+args[0], &detail); err != nil {
				return err
			}

			fmt.Printf("Device: %s\n", detail.Device.Name)
			fmt.Printf("========================================\n\n")
			fmt.Printf("UUID:       %s\n", detail.Device.UUID)
			fmt.Printf("Sector:     %d\n", detail.Device.Sector)
			fmt.Printf("Last Seen:  %s (%s ago)\n\n",
				detail.Device.LastCommunication.Format(time.RFC3339),
				time.Since(detail.Device.LastCommunication).Round(time.Second))

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PARAMETER\tVALUE\tUPDATED")
			for _, r := range detail.Readings {
				fmt.Fprintf(w, "%s\t%d\t%s ago\n", r.Parameter, r.Value, time.Since(r.UpdatedAt).Round(time.Second))
			}
			w.Flush()
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [uuid] [parameter]",
		Short: "Show the reading history of one parameter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/devices/%s/history?parameter=%s&limit=%d", args[0], args[1], limit)
			var rows []HistoryRow
			if err := getJSON(path, &rows); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RECORDED\tVALUE")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%d\n", r.RecordedAt.Format(time.RFC3339), r.Value)
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows to fetch")
	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage automation rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			var rules []Rule
			if err := getJSON("/v1/rules", &rules); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tACTIVE\tSOURCE\tCONDITION\tTARGET\tMESSAGE")
			for _, r := range rules {
				active := "yes"
				if !r.Active {
					active = "no"
				}
				fmt.Fprintf(w, "%d\t%s\t%s/%s\t%s %d\t%s\t%s\n",
					r.ID, active, r.SourceDeviceUUID, r.SourceParameter,
					r.Condition, r.Threshold, r.TargetDeviceUUID, r.Message)
			}
			w.Flush()
			return nil
		},
	}
	cmd.AddCommand(ruleAddCmd(), ruleToggleCmd("enable", true), ruleToggleCmd("disable", false), ruleRemoveCmd())
	return cmd
}

func ruleAddCmd() *cobra.Command {
	var (
		threshold int
		active    bool
	)
	cmd := &cobra.Command{
		Use:   "add [source-uuid] [parameter] [condition] [target-uuid] [message]",
		Short: "Create a rule (condition: GT, LT, EQ or NE)",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{
				"source_device_uuid": args[0],
				"source_parameter":   args[1],
				"condition":          args[2],
				"threshold":          threshold,
				"target_device_uuid": args[3],
				"message":            args[4],
				"active":             active,
			}
			var created Rule
			if err := postJSON("/v1/rules", payload, &created); err != nil {
				return err
			}
			fmt.Printf("Created rule %d\n", created.ID)
			return nil
		},
	}
	cmd.Flags().IntVarP(&threshold, "threshold", "t", 0, "Threshold value")
	cmd.Flags().BoolVar(&active, "active", true, "Create the rule active")
	return cmd
}

func ruleToggleCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [id]",
		Short: titleCase(use) + " a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid rule id %q", args[0])
			}
			body, _ := json.Marshal(map[string]bool{"active": active})
			req, err := http.NewRequest(http.MethodPatch, gatewayURL+"/v1/rules/"+strconv.Itoa(id), bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			return doExpect(req, http.StatusOK)
		},
	}
}

func ruleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm [id]",
		Aliases: []string{"delete"},
		Short:   "Delete a rule",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequest(http.MethodDelete, gatewayURL+"/v1/rules/"+args[0], nil)
			if err != nil {
				return err
			}
			return doExpect(req, http.StatusNoContent)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hothouse version %s\n", Version)
		},
	}
}

func getJSON(path string, out any) error {
	resp, err := http.Get(gatewayURL + path)
	if err != nil {
		return fmt.Errorf("failed to connect to gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func postJSON(path string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := http.Post(gatewayURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to connect to gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func doExpect(req *http.Request, want int) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	fmt.Println("OK")
	return nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
