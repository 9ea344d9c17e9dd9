package examples

import (
	"context"
	"strconv"
	"strings"

	"commandbot/pkg/command"
	"commandbot/pkg/plugin"
	"commandbot/pkg/stanza"
)

const CalculatorNode = "http://trypticon.org/commands/examples/calculator"

// Calculator adds two numbers submitted through a form.
type Calculator struct {
	command.Base
	instructions string
}

func NewCalculator() *Calculator {
	return &Calculator{
		Base:         command.NewBase(CalculatorNode, "Calculator"),
		instructions: "Enter the two numbers to add.",
	}
}

type calculatorConfig struct {
	Instructions string `config:"instructions"`
}

func (c *Calculator) Configure(raw map[string]any) error {
	var cfg calculatorConfig
	if err := plugin.Decode(raw, &cfg); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Instructions) != "" {
		c.instructions = strings.TrimSpace(cfg.Instructions)
	}
	return nil
}

func (c *Calculator) Features() []string {
	return []string{stanza.NSData}
}

func (c *Calculator) HandleCommand(_ context.Context, req *command.Request, resp *stanza.Command) error {
	if req.Initial() {
		resp.Form = stanza.NewForm(stanza.FormTypeForm, c.instructions).
			AddField("param1", stanza.FieldTextSingle, "First number").
			AddField("param2", stanza.FieldTextSingle, "Second number")
		resp.Status = stanza.StatusExecuting
		return nil
	}

	param1, err := formNumber(req.Command.Form, "param1")
	if err != nil {
		return err
	}
	param2, err := formNumber(req.Command.Form, "param2")
	if err != nil {
		return err
	}

	resp.Form = stanza.NewForm(stanza.FormTypeResult, "The result is "+strconv.FormatFloat(param1+param2, 'f', -1, 64))
	resp.Status = stanza.StatusCompleted
	return nil
}

func formNumber(form *stanza.Form, name string) (float64, error) {
	raw, ok := form.Value(name)
	if !ok {
		return 0, stanza.Errorf(stanza.BadRequest, "%s is missing", name)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, stanza.Errorf(stanza.BadRequest, "%s is not a number: %q", name, raw)
	}
	return value, nil
}
