package main

import (
	"fmt"

	"github.com/DoyleJ11/spellduel/internal/config"
	"github.com/DoyleJ11/spellduel/internal/engine"
	"github.com/DoyleJ11/spellduel/internal/lobby"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type identityFlags struct {
	userID   string
	nickname string
	avatar   string
}

func (f identityFlags) identity() lobby.Identity {
	id := lobby.Identity{UserID: f.userID, Nickname: f.nickname, AvatarURL: f.avatar}
	if id.UserID == "" {
		id.UserID = uuid.NewString()
	}
	if id.Nickname == "" {
		id.Nickname = "player-" + id.UserID[:4]
	}
	return id
}

func newCmd(cfg *config.Config) *cobra.Command {
	var who identityFlags

	root := &cobra.Command{
		Use:     "spellduel",
		Short:   "Play a live spelling duel from the terminal.",
		Version: releaseVersion,
	}
	pf := root.PersistentFlags()
	cfg.RegisterFlags(pf)
	pf.StringVar(&who.userID, "user-id", "", "stable player id; random when empty (env: SPELLDUEL_USER_ID)")
	pf.StringVarP(&who.nickname, "nickname", "n", "", "display name (env: SPELLDUEL_NICKNAME)")
	pf.StringVar(&who.avatar, "avatar-url", "", "avatar shown to other players (env: SPELLDUEL_AVATAR_URL)")
	envErr := config.ApplyEnv(pf)
	root.PersistentPreRunE = func(*cobra.Command, []string) error {
		if envErr != nil {
			return envErr
		}
		return cfg.Validate()
	}

	root.AddCommand(newCreateCmd(cfg, &who), newJoinCmd(cfg, &who))

	root.CompletionOptions.HiddenDefaultCmd = true
	root.SetHelpCommand(&cobra.Command{Hidden: true})
	root.SetVersionTemplate("spellduel v{{.Version}}\n")
	root.SilenceErrors = true
	root.SilenceUsage = true
	return root
}

func newCreateCmd(cfg *config.Config, who *identityFlags) *cobra.Command {
	var (
		rc         engine.Config
		stake      string
		sequential bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a new challenge and host it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if stake != "" {
				d, err := decimal.NewFromString(stake)
				if err != nil {
					return fmt.Errorf("stake: %w", err)
				}
				rc.EntryStake = d
			}
			if sequential {
				rc.SelectionMode = engine.SelectSequential
			}
			return play(cmd.Context(), cfg, who.identity(), createAction(rc), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&rc.MaxParticipants, "max-players", engine.DefaultMaxParticipants, "room capacity")
	fs.IntVarP(&rc.WordCount, "words", "w", engine.DefaultWordCount, "rounds per game")
	fs.IntVarP(&rc.TimeLimitSec, "time-limit", "t", engine.DefaultTimeLimitSec, "seconds per round")
	fs.StringVarP(&rc.Difficulty, "difficulty", "d", "", "easy, medium or hard; any when empty")
	fs.StringVar(&stake, "stake", "", "entry stake per player")
	fs.BoolVar(&sequential, "sequential", false, "deal words in list order")
	return cmd
}

func newJoinCmd(cfg *config.Config, who *identityFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "join <challenge-id>",
		Short: "Join someone else's challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return play(cmd.Context(), cfg, who.identity(), joinAction(args[0]), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
