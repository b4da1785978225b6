package main

import (
	"flag"
	"fmt"

	"pipelined.dev/xap"
	_ "pipelined.dev/xap/apu"
)

type listCommand struct {
	params bool
}

func (cmd *listCommand) Name() string {
	return "list"
}

func (cmd *listCommand) Help() string {
	return "Show the list of available processors"
}

func (cmd *listCommand) Register(fs *flag.FlagSet) {
	fs.BoolVar(&cmd.params, "params", false, "print parameters of processors")
}

func (cmd *listCommand) Run() error {
	fmt.Println("Available processors:")
	for _, id := range xap.Registered() {
		p, err := xap.Create(id)
		if err != nil {
			return err
		}
		name := id
		if d, ok := p.(xap.Describer); ok {
			name = d.Descriptor().Name
		}
		fmt.Printf("\t%s\t%s\n", id, name)
		if !cmd.params {
			continue
		}
		for i := 0; i < p.ParamsCount(); i++ {
			info, _ := p.ParamInfo(i)
			fmt.Printf("\t\t%d %s [%g, %g] default %g\n", info.ID, info.Name, info.Min, info.Max, info.Default)
		}
	}
	return nil
}
