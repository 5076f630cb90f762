package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/agentdesk/internal/api"
	"github.com/kalambet/agentdesk/internal/composer"
	"github.com/kalambet/agentdesk/internal/config"
)

// --- synthesize ---

var synthesizeCmd = &cobra.Command{
	Use:   "synthesize",
	Short: "Generate an agent system prompt locally",
	Long: `Generate an agent system prompt from a configuration without a running server.

Examples:
  agentdesk synthesize --variant sales --business-name "Acme Corp"
  agentdesk synthesize --product customer_service_agent --config ./agent.json
  cat agent.json | agentdesk synthesize --variant integrated --config - --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var f synthesizeFlags
		f.variant, _ = cmd.Flags().GetString("variant")
		f.product, _ = cmd.Flags().GetString("product")
		f.configPath, _ = cmd.Flags().GetString("config")
		f.businessName, _ = cmd.Flags().GetString("business-name")
		f.businessDescription, _ = cmd.Flags().GetString("business-description")
		f.asJSON, _ = cmd.Flags().GetBool("json")
		return runSynthesize(cmd.InOrStdin(), cmd.OutOrStdout(), f)
	},
}

type synthesizeFlags struct {
	variant             string
	product             string
	configPath          string
	businessName        string
	businessDescription string
	asJSON              bool
}

func runSynthesize(stdin io.Reader, out io.Writer, f synthesizeFlags) error {
	if f.variant == "" && f.product == "" {
		return fmt.Errorf("one of --variant or --product is required")
	}

	req := api.SynthesizeRequest{
		Variant: f.variant,
		Product: f.product,
		Business: composer.BusinessProfile{
			Name:        f.businessName,
			Description: f.businessDescription,
		},
	}
	if f.configPath != "" {
		opts, err := readOptions(stdin, f.configPath)
		if err != nil {
			return err
		}
		req.Config = opts
	}

	res, err := api.Synthesize(req)
	if err != nil {
		return err
	}
	if f.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err = fmt.Fprintln(out, res.Prompt)
	return err
}

// readOptions decodes agent options from a JSON file, or stdin for "-".
func readOptions(stdin io.Reader, path string) (composer.Options, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return composer.Options{}, fmt.Errorf("reading config: %w", err)
		}
		defer f.Close()
		r = f
	}
	var opts composer.Options
	if err := json.NewDecoder(r).Decode(&opts); err != nil {
		return composer.Options{}, fmt.Errorf("parsing config: %w", err)
	}
	return opts, nil
}

func init() {
	synthesizeCmd.Flags().String("variant", "", "agent variant: sales, service or integrated")
	synthesizeCmd.Flags().String("product", "", "product id or name, used when --variant is empty")
	synthesizeCmd.Flags().String("config", "", "JSON file with agent options (- for stdin)")
	synthesizeCmd.Flags().String("business-name", "", "business name used in the prompt")
	synthesizeCmd.Flags().String("business-description", "", "fallback business overview")
	synthesizeCmd.Flags().Bool("json", false, "print variant, resolved config and prompt as JSON")
}

// --- products ---

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List the product catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listProducts(cmd.Context(), client, cmd.OutOrStdout())
	},
}

func listProducts(ctx context.Context, c *apiClient, out io.Writer) error {
	resp, err := c.get(ctx, "/products")
	if err != nil {
		return err
	}
	var products []struct {
		ID           string  `json:"id"`
		Name         string  `json:"name"`
		Price        float64 `json:"price"`
		BillingCycle string  `json:"billing_cycle"`
		Variant      string  `json:"variant"`
	}
	if err := decodeJSON(resp, &products); err != nil {
		return err
	}
	for _, p := range products {
		fmt.Fprintf(out, "%s  %s  $%.2f/%s  (%s)\n",
			colorize(colorCyan, p.ID), p.Name, p.Price, p.BillingCycle, p.Variant)
	}
	return nil
}

// --- merchant ---

var merchantCmd = &cobra.Command{
	Use:   "merchant",
	Short: "Inspect merchant accounts",
}

var merchantShowCmd = &cobra.Command{
	Use:   "show [merchant-id]",
	Short: "Show a merchant's profile and products as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		if id == "" && email == "" {
			return fmt.Errorf("a merchant id or --email is required")
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showMerchant(cmd.Context(), client, cmd.OutOrStdout(), id, email)
	},
}

func merchantPath(id, email string) string {
	if id != "" {
		return "/merchants/" + url.PathEscape(id)
	}
	return "/merchants?email=" + url.QueryEscape(email)
}

func showMerchant(ctx context.Context, c *apiClient, out io.Writer, id, email string) error {
	resp, err := c.get(ctx, merchantPath(id, email))
	if err != nil {
		return err
	}
	var snapshot any
	if err := decodeJSON(resp, &snapshot); err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshot)
}

func init() {
	merchantShowCmd.Flags().String("email", "", "look the merchant up by email")
	merchantCmd.AddCommand(merchantShowCmd)
}

// --- captures ---

var capturesCmd = &cobra.Command{
	Use:   "captures <merchant-id>",
	Short: "List leads and tickets captured from agent conversations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listCaptures(cmd.Context(), client, cmd.OutOrStdout(), args[0], limit)
	},
}

func listCaptures(ctx context.Context, c *apiClient, out io.Writer, merchantID string, limit int) error {
	path := fmt.Sprintf("/merchants/%s/captures?limit=%d", url.PathEscape(merchantID), limit)
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	var captures []struct {
		ID         string `json:"id"`
		Kind       string `json:"kind"`
		FieldsJSON string `json:"fields_json"`
		CreatedAt  string `json:"created_at"`
	}
	if err := decodeJSON(resp, &captures); err != nil {
		return err
	}
	if len(captures) == 0 {
		fmt.Fprintln(out, "No captures found.")
		return nil
	}
	for _, cp := range captures {
		fmt.Fprintf(out, "%s  %s  %s  %s\n",
			colorize(colorCyan, shortID(cp.ID)), cp.CreatedAt, cp.Kind, cp.FieldsJSON)
	}
	return nil
}

func init() {
	capturesCmd.Flags().Int("limit", 20, "maximum number of captures to list")
}

// --- knowledge ---

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage a merchant's policy documents",
}

var knowledgeListCmd = &cobra.Command{
	Use:   "list <merchant-id>",
	Short: "List policy documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listKnowledge(cmd.Context(), client, cmd.OutOrStdout(), args[0])
	},
}

var knowledgeAddCmd = &cobra.Command{
	Use:   "add <merchant-id>",
	Short: "Add a policy document",
	Long: `Add a policy document to a merchant's knowledge base.

Examples:
  agentdesk knowledge add m-123 --file ./returns.pdf --certified
  agentdesk knowledge add m-123 --template ecommerce
  agentdesk knowledge add m-123 --url https://shop.example.com/refunds`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		template, _ := cmd.Flags().GetString("template")
		urls, _ := cmd.Flags().GetStringSlice("url")
		certified, _ := cmd.Flags().GetBool("certified")

		req, err := knowledgeRequest(file, template, urls, certified)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return addKnowledge(cmd.Context(), client, args[0], req)
	},
}

var knowledgeDeleteCmd = &cobra.Command{
	Use:   "delete <doc-id>",
	Short: "Delete a policy document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/knowledge/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

// knowledgeRequest builds the upload body from exactly one source flag.
func knowledgeRequest(file, template string, urls []string, certified bool) (api.KnowledgeRequest, error) {
	sources := 0
	for _, set := range []bool{file != "", template != "", len(urls) > 0} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return api.KnowledgeRequest{}, fmt.Errorf("exactly one of --file, --template or --url is required")
	}

	req := api.KnowledgeRequest{Template: template, URLs: urls, Certified: certified}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return api.KnowledgeRequest{}, fmt.Errorf("reading file: %w", err)
		}
		req.Name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		req.ContentType = mime.TypeByExtension(filepath.Ext(file))
		req.Content = base64.StdEncoding.EncodeToString(data)
	}
	return req, nil
}

func addKnowledge(ctx context.Context, c *apiClient, merchantID string, req api.KnowledgeRequest) error {
	resp, err := c.post(ctx, "/merchants/"+url.PathEscape(merchantID)+"/knowledge", req)
	if err != nil {
		return err
	}
	var result map[string]any
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	if len(req.URLs) > 0 {
		printSuccess("Queued import of %d page(s)", len(req.URLs))
		return nil
	}
	printSuccess("Added document %v", result["id"])
	return nil
}

func listKnowledge(ctx context.Context, c *apiClient, out io.Writer, merchantID string) error {
	resp, err := c.get(ctx, "/merchants/"+url.PathEscape(merchantID)+"/knowledge")
	if err != nil {
		return err
	}
	var docs []struct {
		ID        string `json:"id"`
		Name      string `json:"doc_name"`
		Source    string `json:"source"`
		Certified bool   `json:"is_certified"`
	}
	if err := decodeJSON(resp, &docs); err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintln(out, "No documents found.")
		return nil
	}
	for _, d := range docs {
		mark := ""
		if d.Certified {
			mark = colorize(colorGreen, " [certified]")
		}
		fmt.Fprintf(out, "%s  %s  %s%s\n", colorize(colorCyan, shortID(d.ID)), d.Name, d.Source, mark)
	}
	return nil
}

func init() {
	knowledgeAddCmd.Flags().String("file", "", "PDF, HTML or text file to upload")
	knowledgeAddCmd.Flags().String("template", "", "built-in policy template name")
	knowledgeAddCmd.Flags().StringSlice("url", nil, "policy page URL to import (repeatable)")
	knowledgeAddCmd.Flags().Bool("certified", false, "mark the document as reviewed by the merchant")
	knowledgeCmd.AddCommand(knowledgeListCmd)
	knowledgeCmd.AddCommand(knowledgeAddCmd)
	knowledgeCmd.AddCommand(knowledgeDeleteCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Restore a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
