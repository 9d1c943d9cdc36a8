// Command cloudrt is a thin demo CLI for the convergence driver: it wires a
// backend, a provider, and a hard-coded demo component tree together and
// runs one convergence, printing the rendered fiber tree when -debug is set,
// in place of a full plan/apply/state command surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/cloudrt/cloudrt/internal/backend"
	"github.com/cloudrt/cloudrt/internal/backend/localfile"
	"github.com/cloudrt/cloudrt/internal/backend/memory"
	"github.com/cloudrt/cloudrt/internal/converge"
	"github.com/cloudrt/cloudrt/internal/element"
	"github.com/cloudrt/cloudrt/internal/errorhandling"
	"github.com/cloudrt/cloudrt/internal/fiber"
	"github.com/cloudrt/cloudrt/internal/hooks"
	"github.com/cloudrt/cloudrt/internal/logging"
	"github.com/cloudrt/cloudrt/internal/provider/memprovider"
)

func main() {
	var (
		stack      = flag.String("stack", "demo", "stack name to converge")
		stateDir   = flag.String("state-dir", "", "directory for the local-file state backend; empty uses an in-memory backend")
		bucketName = flag.String("bucket", "demo-bucket", "name prop for the demo tree's bucket node")
		debug      = flag.Bool("debug", false, "print the rendered fiber tree's debug repr")
		timeout    = flag.Duration("timeout", 2*time.Minute, "overall convergence timeout")
	)
	flag.Parse()

	if err := run(*stack, *stateDir, *bucketName, *debug, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, "cloudrt:", err)
		os.Exit(1)
	}
}

func run(stack, stateDir, bucketName string, debug bool, timeout time.Duration) error {
	logger := logging.For("cmd")

	var b backend.Backend
	if stateDir == "" {
		b = memory.New()
	} else {
		b = localfile.New(stateDir, afero.NewOsFs())
	}

	p := memprovider.New()
	p.Register("demo:bucket", func(props, _ map[string]any) (map[string]any, error) {
		name, _ := props["name"].(string)
		return map[string]any{"arn": "arn:demo:bucket:" + name}, nil
	})
	p.Register("demo:policy", func(props, _ map[string]any) (map[string]any, error) {
		arn, _ := props["bucketArn"].(string)
		return map[string]any{"id": "policy-for-" + arn}, nil
	})

	renderer := fiber.NewRenderer()
	driver := converge.New(renderer, b, p, converge.Options{
		Stack:        stack,
		AsyncTimeout: timeout,
	})

	root := element.CreateElement(element.Component(demoStack), element.Props{"bucketName": bucketName})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	snap, err := driver.Run(ctx, root)
	if debug {
		if rootFiber := renderer.Root(); rootFiber != nil {
			fmt.Fprintln(os.Stderr, fiber.DebugTree(rootFiber))
		}
	}
	if err != nil {
		return err
	}

	logger.Info("converged", "stack", stack, "nodes", len(snap.Nodes))
	for _, n := range snap.Nodes {
		fmt.Printf("%s\t%s\t%v\n", n.ID, n.ConstructType, n.Outputs)
	}
	return nil
}

// demoStack is the demo component tree: one bucket and one policy that
// depends on the bucket's arn output, the same producer/consumer shape
// internal/converge's tests exercise.
func demoStack(props element.Props) element.Children {
	bucketArn := errorhandling.Must2(hooks.UseInstance("demo:bucket", map[string]any{"name": props["bucketName"]}))
	return element.CreateElement(element.Component(demoPolicy), element.Props{
		"bucketArn": hooks.Output[string](bucketArn, "arn"),
	})
}

func demoPolicy(props element.Props) element.Children {
	errorhandling.Must2(hooks.UseInstance("demo:policy", map[string]any{"bucketArn": props["bucketArn"]}))
	return nil
}
