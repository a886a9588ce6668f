// Command graphctl is a minimal driver for exercising sessions and
// transactions against a bbolt-backed database file, for smoke-testing
// the schema lattice and typed graph store without a query layer on top.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmikhalin/typedb/config"
	"github.com/dmikhalin/typedb/database"
	"github.com/dmikhalin/typedb/graph"
	"github.com/dmikhalin/typedb/kv"
	"github.com/dmikhalin/typedb/logger"
	"github.com/dmikhalin/typedb/schema"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	cfg := config.NewDefaultConfig()
	log := logger.NewStandardLogger(os.Stderr)

	root := &cobra.Command{
		Use:   "graphctl",
		Short: "inspect and mutate a typedb core database file",
	}
	root.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding the database file")
	root.PersistentFlags().BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable debug logging")

	root.AddCommand(
		newSchemaDefineCommand(cfg, log),
		newSchemaListCommand(cfg, log),
		newDataPutCommand(cfg, log),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// openDatabase opens the bbolt-backed database at cfg.DataDir, bootstrapping
// it on first use.
func openDatabase(cfg *config.Config, log logger.Logger) (*database.Database, error) {
	if cfg.Verbose {
		log = logger.NewVerboseLogger(os.Stderr)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, err
	}
	engine, err := kv.OpenBboltEngine(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	db, err := database.Open(engine, log)
	if err != nil {
		engine.Close()
		return nil, err
	}
	return db, nil
}

func newSchemaDefineCommand(cfg *config.Config, log logger.Logger) *cobra.Command {
	var label, sub string
	var abstract bool
	cmd := &cobra.Command{
		Use:   "schema-define",
		Short: "define a new type as a subtype of an existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			sess := db.OpenSession(database.SchemaSession)
			defer sess.Close()
			tx, err := sess.OpenTransaction(database.Write)
			if err != nil {
				return err
			}
			schemaTx := tx.Unwrap().(*database.SchemaTransaction)

			parent, err := schemaTx.Lattice.Lookup(sub)
			if err != nil {
				return err
			}
			if parent == nil {
				return fmt.Errorf("graphctl: no such type %q", sub)
			}

			v, err := schemaTx.NewType(parent.Kind, label, parent)
			if err != nil {
				return err
			}
			if abstract {
				if err := schemaTx.Lattice.SetAbstract(v, true); err != nil {
					return err
				}
			}
			if err := schemaTx.Commit(); err != nil {
				return err
			}
			fmt.Printf("defined %s (id=%d) sub %s\n", label, v.ID, sub)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "label for the new type")
	cmd.Flags().StringVar(&sub, "sub", "", "label of the existing supertype")
	cmd.Flags().BoolVar(&abstract, "abstract", false, "mark the new type abstract")
	cmd.MarkFlagRequired("label")
	cmd.MarkFlagRequired("sub")
	return cmd
}

func newSchemaListCommand(cfg *config.Config, log logger.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "schema-list",
		Short: "print every type in the schema graph, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			sess := db.OpenSession(database.SchemaSession)
			defer sess.Close()
			tx, err := sess.OpenTransaction(database.Read)
			if err != nil {
				return err
			}
			defer tx.Close()
			schemaTx := tx.Unwrap().(*database.SchemaTransaction)

			vertices, err := schemaTx.Store().All()
			if err != nil {
				return err
			}
			for _, v := range vertices {
				if !v.Kind.IsType() {
					continue
				}
				parentLabel := "-"
				if parent, err := schemaTx.Lattice.Parent(v); err == nil && parent != nil {
					parentLabel = parent.Label
				}
				fmt.Printf("%-20s kind=%-12s sub=%-20s abstract=%v root=%v\n",
					v.Label, v.Kind, parentLabel, v.IsAbstract, v.IsRoot)
			}
			return nil
		},
	}
}

func newDataPutCommand(cfg *config.Config, log logger.Logger) *cobra.Command {
	var typeLabel string
	cmd := &cobra.Command{
		Use:   "data-put",
		Short: "create a new instance of an existing type",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			sess := db.OpenSession(database.DataSession)
			defer sess.Close()
			tx, err := sess.OpenTransaction(database.Write)
			if err != nil {
				return err
			}
			dataTx := tx.Unwrap().(*database.DataTransaction)

			schemaLattice := schema.NewLattice(dataTx.SchemaGraph())
			typeVertex, err := schemaLattice.Lookup(typeLabel)
			if err != nil {
				return err
			}
			if typeVertex == nil {
				return fmt.Errorf("graphctl: no such type %q", typeLabel)
			}

			instanceKind, err := instanceKindOf(typeVertex.Kind)
			if err != nil {
				return err
			}
			v, err := dataTx.NewThing(instanceKind, typeVertex)
			if err != nil {
				return err
			}
			if err := dataTx.Commit(); err != nil {
				return err
			}
			fmt.Printf("created %s instance id=%d\n", typeLabel, v.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&typeLabel, "type", "", "label of the type to instantiate")
	cmd.MarkFlagRequired("type")
	return cmd
}

// instanceKindOf maps a type vertex's Kind to the Kind its instances carry.
func instanceKindOf(typeKind graph.Kind) (graph.Kind, error) {
	switch typeKind {
	case graph.EntityType:
		return graph.Entity, nil
	case graph.AttributeType:
		return graph.Attribute, nil
	case graph.RelationType:
		return graph.Relation, nil
	case graph.RoleType:
		return graph.Role, nil
	default:
		return 0, fmt.Errorf("graphctl: %s has no instance kind", typeKind)
	}
}
