package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/quill/internal/config"
)

// --- persona ---

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Manage writing personas",
}

var personaCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a persona from shaper source files",
	Long: `Create a persona from shaper source files.

Examples:
  quill persona create --name Ada --role "Staff Engineer" --source ./essays.md
  quill persona create --name Ada --surname Lovelace --role Reviewer \
      --bio "Terse, evidence-first" --source notes.md --source letters.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		surname, _ := cmd.Flags().GetString("surname")
		role, _ := cmd.Flags().GetString("role")
		bio, _ := cmd.Flags().GetString("bio")
		files, _ := cmd.Flags().GetStringArray("source")

		if name == "" || role == "" {
			return fmt.Errorf("--name and --role are required")
		}

		sources, err := readShaperSources(files)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"name":          name,
			"surname":       surname,
			"role":          role,
			"bio":           bio,
			"shaperSources": sources,
		}
		resp, err := client.post(cmd.Context(), "/personas", req)
		if err != nil {
			return err
		}

		var created struct {
			ID                string `json:"id"`
			CalibrationStatus string `json:"calibrationStatus"`
		}
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}

		printSuccess("Created persona %s (%s)", created.ID, created.CalibrationStatus)
		if len(sources) > 0 {
			printStep("Run 'quill persona calibrate %s' to extract the personality profile", created.ID)
		}
		return nil
	},
}

func readShaperSources(files []string) ([]map[string]string, error) {
	sources := make([]map[string]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading shaper source: %w", err)
		}
		sources = append(sources, map[string]string{
			"name":    filepath.Base(f),
			"content": string(data),
		})
	}
	return sources, nil
}

var personaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List personas",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/personas")
		if err != nil {
			return err
		}

		var personas []struct {
			ID                string `json:"id"`
			Name              string `json:"name"`
			Surname           string `json:"surname"`
			Role              string `json:"role"`
			CalibrationStatus string `json:"calibrationStatus"`
		}
		if err := decodeJSON(resp, &personas); err != nil {
			return err
		}

		if len(personas) == 0 {
			fmt.Println("No personas found.")
			return nil
		}
		for _, p := range personas {
			name := p.Name
			if p.Surname != "" {
				name += " " + p.Surname
			}
			fmt.Printf("%s  %-24s %-20s %s\n",
				colorize(colorCyan, p.ID[:8]),
				name,
				p.Role,
				p.CalibrationStatus,
			)
		}
		return nil
	},
}

var personaShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a persona as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/personas/"+args[0])
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var personaDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a persona",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/personas/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted persona %s", args[0])
		return nil
	},
}

var personaCalibrateCmd = &cobra.Command{
	Use:   "calibrate <id>",
	Short: "Queue personality calibration from the persona's shaper sources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/personas/"+args[0]+"/calibrate", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Calibration queued for %s (status: %s)", result["id"], result["status"])
		return nil
	},
}

var personaWeightsCmd = &cobra.Command{
	Use:   "weights <id>",
	Short: "Set the persona's blend weights",
	Long: `Set the persona's blend weights.

The three weights control how much of the compiled instruction budget goes
to personality, knowledge, and the current document. They must sum to 1.0.

Example:
  quill persona weights abc123 --personality 0.2 --knowledge 0.4 --document 0.4`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		personality, _ := cmd.Flags().GetFloat64("personality")
		knowledge, _ := cmd.Flags().GetFloat64("knowledge")
		document, _ := cmd.Flags().GetFloat64("document")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]float64{
			"personality":     personality,
			"knowledge":       knowledge,
			"documentContext": document,
		}
		resp, err := client.put(cmd.Context(), "/personas/"+args[0]+"/weights", req)
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		printSuccess("Weights updated: personality=%.2f knowledge=%.2f document=%.2f",
			personality, knowledge, document)
		return nil
	},
}

var personaGuidanceCmd = &cobra.Command{
	Use:   "guidance <id>",
	Short: "Generate development guidance for a persona",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readDocFlag(cmd)
		if err != nil {
			return err
		}
		sourceIDs, _ := cmd.Flags().GetString("sources")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"currentDoc": doc,
			"sourceIds":  splitCSV(sourceIDs),
		}
		resp, err := client.post(cmd.Context(), "/personas/"+args[0]+"/guidance", req)
		if err != nil {
			return err
		}

		var guidance []struct {
			Type       string `json:"type"`
			Content    string `json:"content"`
			Confidence int    `json:"confidence"`
		}
		if err := decodeJSON(resp, &guidance); err != nil {
			return err
		}

		if len(guidance) == 0 {
			fmt.Println("No guidance generated.")
			return nil
		}
		for _, g := range guidance {
			fmt.Printf("%s [%d%%]\n  %s\n",
				colorize(colorBold, g.Type), g.Confidence, g.Content)
		}
		return nil
	},
}

var personaGuidanceApplyCmd = &cobra.Command{
	Use:   "apply <persona-id> <guidance-id>",
	Short: "Mark a guidance item as applied",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/personas/"+args[0]+"/guidance/"+args[1]+"/applied", nil)
		if err != nil {
			return err
		}
		var g struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}
		if err := decodeJSON(resp, &g); err != nil {
			return err
		}
		printSuccess("Applied %s guidance: %s", g.Type, g.Content)
		return nil
	},
}

var personaChemistryCmd = &cobra.Command{
	Use:   "chemistry <id>",
	Short: "Score how well the persona aligns with the current document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readDocFlag(cmd)
		if err != nil {
			return err
		}
		sourceIDs, _ := cmd.Flags().GetString("sources")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"currentDoc": doc,
			"sourceIds":  splitCSV(sourceIDs),
		}
		resp, err := client.post(cmd.Context(), "/personas/"+args[0]+"/chemistry", req)
		if err != nil {
			return err
		}

		var report struct {
			AlignmentScore  int      `json:"alignmentScore"`
			Recommendations []string `json:"recommendations"`
		}
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		printStatus("Alignment", "%d/100", report.AlignmentScore)
		for _, rec := range report.Recommendations {
			fmt.Printf("  - %s\n", rec)
		}
		return nil
	},
}

func init() {
	personaCreateCmd.Flags().String("name", "", "persona name")
	personaCreateCmd.Flags().String("surname", "", "persona surname")
	personaCreateCmd.Flags().String("role", "", "persona role")
	personaCreateCmd.Flags().String("bio", "", "short biography")
	personaCreateCmd.Flags().StringArray("source", nil, "shaper source file (repeatable)")

	personaWeightsCmd.Flags().Float64("personality", 0.15, "personality weight")
	personaWeightsCmd.Flags().Float64("knowledge", 0.45, "knowledge weight")
	personaWeightsCmd.Flags().Float64("document", 0.40, "document context weight")

	for _, c := range []*cobra.Command{personaGuidanceCmd, personaChemistryCmd} {
		c.Flags().String("doc", "", "file holding the current document")
		c.Flags().String("sources", "", "comma-separated knowledge source ids")
	}

	personaCmd.AddCommand(personaCreateCmd)
	personaCmd.AddCommand(personaListCmd)
	personaCmd.AddCommand(personaShowCmd)
	personaCmd.AddCommand(personaDeleteCmd)
	personaCmd.AddCommand(personaCalibrateCmd)
	personaCmd.AddCommand(personaWeightsCmd)
	personaGuidanceCmd.AddCommand(personaGuidanceApplyCmd)
	personaCmd.AddCommand(personaGuidanceCmd)
	personaCmd.AddCommand(personaChemistryCmd)
}

// --- source ---

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage the shared knowledge base",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a knowledge source",
	Long: `Add a knowledge source.

Examples:
  quill source add --name "Style guide" --file ./style.md
  quill source add --name "Q3 goals" --text "Ship the importer by October"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		content := text
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			content = string(data)
			if name == "" {
				name = filepath.Base(file)
			}
		}
		if name == "" {
			return fmt.Errorf("--name is required with --text")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]string{"name": name, "content": content}
		resp, err := client.post(cmd.Context(), "/sources", req)
		if err != nil {
			return err
		}

		var src struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &src); err != nil {
			return err
		}
		printSuccess("Added source %s", src.ID)
		return nil
	},
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sources")
		if err != nil {
			return err
		}

		var sources []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Content string `json:"content"`
		}
		if err := decodeJSON(resp, &sources); err != nil {
			return err
		}

		if len(sources) == 0 {
			fmt.Println("No knowledge sources found.")
			return nil
		}
		for _, s := range sources {
			fmt.Printf("%s  %-32s %d bytes\n",
				colorize(colorCyan, s.ID[:8]), s.Name, len(s.Content))
		}
		return nil
	},
}

var sourceShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a knowledge source as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sources/"+args[0])
		if err != nil {
			return err
		}

		var src any
		if err := decodeJSON(resp, &src); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(src)
	},
}

var sourceDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a knowledge source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/sources/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted source %s", args[0])
		return nil
	},
}

var sourceSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/sources/search?q=%s&top_k=%d", url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var hits []struct {
			SourceID string  `json:"sourceId"`
			Text     string  `json:"text"`
			Score    float32 `json:"score"`
		}
		if err := decodeJSON(resp, &hits); err != nil {
			return err
		}

		if len(hits) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		for i, h := range hits {
			fmt.Printf("\n%s [score: %.3f, source: %s]\n",
				colorize(colorBold, fmt.Sprintf("Result %d", i+1)), h.Score, h.SourceID)
			text := h.Text
			if len(text) > 500 {
				text = text[:500] + "..."
			}
			fmt.Printf("  %s\n", text)
		}
		return nil
	},
}

func init() {
	sourceAddCmd.Flags().String("name", "", "source name")
	sourceAddCmd.Flags().String("text", "", "source content as text")
	sourceAddCmd.Flags().String("file", "", "file to read content from")
	sourceSearchCmd.Flags().Int("limit", 5, "maximum number of results")

	sourceCmd.AddCommand(sourceAddCmd)
	sourceCmd.AddCommand(sourceListCmd)
	sourceCmd.AddCommand(sourceShowCmd)
	sourceCmd.AddCommand(sourceDeleteCmd)
	sourceCmd.AddCommand(sourceSearchCmd)
}

// --- compile / draft ---

var compileCmd = &cobra.Command{
	Use:   "compile <persona-id>",
	Short: "Compile the persona's system instruction and print it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readDocFlag(cmd)
		if err != nil {
			return err
		}
		sourceIDs, _ := cmd.Flags().GetString("sources")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"sourceIds":  splitCSV(sourceIDs),
			"currentDoc": doc,
		}
		resp, err := client.post(cmd.Context(), "/personas/"+args[0]+"/compile", req)
		if err != nil {
			return err
		}

		var result struct {
			Instruction     string `json:"instruction"`
			EstimatedTokens int    `json:"estimatedTokens"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Instruction)
		printStatus("Estimated tokens", "%d", result.EstimatedTokens)
		return nil
	},
}

var draftCmd = &cobra.Command{
	Use:   "draft <persona-id> <task...>",
	Short: "Draft document content in the persona's voice",
	Long: `Draft document content in the persona's voice.

Examples:
  quill draft abc123 "Write the opening section of the RFC"
  quill draft abc123 "Rework the summary" --doc ./draft.md --sources s1,s2`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		task := strings.Join(args[1:], " ")
		doc, err := readDocFlag(cmd)
		if err != nil {
			return err
		}
		sourceIDs, _ := cmd.Flags().GetString("sources")
		temperature, _ := cmd.Flags().GetFloat64("temperature")
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"task":        task,
			"sourceIds":   splitCSV(sourceIDs),
			"currentDoc":  doc,
			"temperature": temperature,
		}
		resp, err := client.post(cmd.Context(), "/personas/"+args[0]+"/draft", req)
		if err != nil {
			return err
		}

		var result struct {
			EditID  string `json:"editId"`
			Content string `json:"content"`
			Version int    `json:"version"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if output != "" {
			if err := os.WriteFile(output, []byte(result.Content), 0o644); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
			printSuccess("Draft written to %s", output)
		} else {
			fmt.Println(result.Content)
		}
		printStatus("Edit", "%s (document version %d)", result.EditID, result.Version)
		printStep("Rate it with 'quill rate %s --persona %s --stars N'", result.EditID, args[0])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{compileCmd, draftCmd} {
		c.Flags().String("doc", "", "file holding the current document")
		c.Flags().String("sources", "", "comma-separated knowledge source ids (empty: all)")
	}
	draftCmd.Flags().Float64("temperature", 0, "sampling temperature (0: server default)")
	draftCmd.Flags().String("output", "", "write the draft to a file instead of stdout")
}

// --- pathways ---

var pathwaysCmd = &cobra.Command{
	Use:   "pathways",
	Short: "Explore knowledge pathways for a task",
}

var pathwaysFindCmd = &cobra.Command{
	Use:   "find <task...>",
	Short: "Find pathways relevant to a task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPathwaySearch("/pathways/search"),
}

var pathwaysOptimalCmd = &cobra.Command{
	Use:   "optimal <task...>",
	Short: "Find the best-scoring pathways for a task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPathwaySearch("/pathways/optimal"),
}

func runPathwaySearch(path string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		task := strings.Join(args, " ")
		sourceIDs, _ := cmd.Flags().GetString("sources")
		maxPathways, _ := cmd.Flags().GetInt("max")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"task":        task,
			"sourceIds":   splitCSV(sourceIDs),
			"maxPathways": maxPathways,
		}
		resp, err := client.post(cmd.Context(), path, req)
		if err != nil {
			return err
		}

		var refs []struct {
			SourceID  string `json:"sourceId"`
			PathwayID string `json:"pathwayId"`
			Relevance int    `json:"relevance"`
			Context   string `json:"context"`
		}
		if err := decodeJSON(resp, &refs); err != nil {
			return err
		}

		if len(refs) == 0 {
			fmt.Println("No relevant pathways found.")
			return nil
		}
		for _, ref := range refs {
			fmt.Printf("%s %s [%d%%]\n  %s\n",
				colorize(colorCyan, ref.SourceID), ref.PathwayID, ref.Relevance, ref.Context)
		}
		return nil
	}
}

func init() {
	for _, c := range []*cobra.Command{pathwaysFindCmd, pathwaysOptimalCmd} {
		c.Flags().String("sources", "", "comma-separated knowledge source ids (empty: all)")
		c.Flags().Int("max", 0, "maximum pathways to return (optimal only)")
	}
	pathwaysCmd.AddCommand(pathwaysFindCmd)
	pathwaysCmd.AddCommand(pathwaysOptimalCmd)
}

// --- rate / suggest ---

var rateCmd = &cobra.Command{
	Use:   "rate <edit-id>",
	Short: "Rate a generated edit with 1-5 stars",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		personaID, _ := cmd.Flags().GetString("persona")
		stars, _ := cmd.Flags().GetInt("stars")
		comments, _ := cmd.Flags().GetString("comments")
		file, _ := cmd.Flags().GetString("file")

		if personaID == "" {
			return fmt.Errorf("--persona is required")
		}

		content := ""
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading edit content: %w", err)
			}
			content = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"personaId": personaID,
			"stars":     stars,
			"comments":  comments,
			"content":   content,
		}
		resp, err := client.post(cmd.Context(), "/edits/"+args[0]+"/rating", req)
		if err != nil {
			return err
		}

		var rating struct {
			Metrics struct {
				Clarity          int `json:"clarity"`
				Accuracy         int `json:"accuracy"`
				Relevance        int `json:"relevance"`
				PersonaAlignment int `json:"personaAlignment"`
				Overall          int `json:"overall"`
			} `json:"metrics"`
		}
		if err := decodeJSON(resp, &rating); err != nil {
			return err
		}

		printSuccess("Rated edit %s (%d stars)", args[0], stars)
		m := rating.Metrics
		printStatus("Clarity", "%d", m.Clarity)
		printStatus("Accuracy", "%d", m.Accuracy)
		printStatus("Relevance", "%d", m.Relevance)
		printStatus("Persona alignment", "%d", m.PersonaAlignment)
		printStatus("Overall", "%d", m.Overall)
		return nil
	},
}

var suggestCmd = &cobra.Command{
	Use:   "suggest <edit-id>",
	Short: "Get improvement suggestions for a generated edit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		personaID, _ := cmd.Flags().GetString("persona")
		file, _ := cmd.Flags().GetString("file")

		if personaID == "" {
			return fmt.Errorf("--persona is required")
		}

		content := ""
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading edit content: %w", err)
			}
			content = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"personaId": personaID, "content": content}
		resp, err := client.post(cmd.Context(), "/edits/"+args[0]+"/suggestions", req)
		if err != nil {
			return err
		}

		var suggestions []struct {
			Suggestion     string `json:"suggestion"`
			Confidence     int    `json:"confidence"`
			Implementation string `json:"implementation"`
		}
		if err := decodeJSON(resp, &suggestions); err != nil {
			return err
		}

		if len(suggestions) == 0 {
			fmt.Println("No suggestions available.")
			return nil
		}
		for _, s := range suggestions {
			fmt.Printf("%s [%d%%]\n", colorize(colorBold, s.Suggestion), s.Confidence)
			if s.Implementation != "" {
				fmt.Printf("  %s\n", s.Implementation)
			}
		}
		return nil
	},
}

func init() {
	rateCmd.Flags().String("persona", "", "persona the edit was drafted for")
	rateCmd.Flags().Int("stars", 3, "star rating from 1 to 5")
	rateCmd.Flags().String("comments", "", "free-form comments")
	rateCmd.Flags().String("file", "", "file holding the edit content")

	suggestCmd.Flags().String("persona", "", "persona the edit was drafted for")
	suggestCmd.Flags().String("file", "", "file holding the edit content")
}

// --- export / import ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export personas and knowledge sources as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/export")
		if err != nil {
			return err
		}

		var doc any
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		writer := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		enc := json.NewEncoder(writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Exported to %s", output)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import personas and knowledge sources from an export file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading import file: %w", err)
		}

		var doc json.RawMessage
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/import", doc)
		if err != nil {
			return err
		}

		var result struct {
			Personas         int `json:"personas"`
			KnowledgeSources int `json:"knowledgeSources"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Imported %d personas and %d knowledge sources",
			result.Personas, result.KnowledgeSources)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
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

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret value in the platform secret store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored secret %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}

// --- helpers ---

func readDocFlag(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("doc")
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading document: %w", err)
	}
	return string(data), nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
