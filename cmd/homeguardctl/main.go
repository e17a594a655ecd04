package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"homeguard/internal/blacklist"
	"homeguard/internal/config"
	"homeguard/internal/firewall"
	"homeguard/internal/guard"
	"homeguard/internal/hosts"
	"homeguard/internal/logger"
	"homeguard/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: homeguardctl <command> [args]

Commands:
  status                         Show stored and enforced state
  block <domain>                 Add a manual block
  unblock <domain>               Remove a manual block
  allow-for <domain> <duration>  Temporary exception (e.g. 30m, 2h)
  category <slug> on|off         Toggle a category
  categories                     List categories
  schedule add <name> <HH:MM> <HH:MM> <days>
                                 Add an allowed window; days like mon,tue or 0,1
  schedule list                  List schedules
  schedule rm <uid>              Delete a schedule
  limit <minutes>                Set the daily usage limit (0 disables)
  update [slug]                  Refresh external blacklists
  restore-hosts                  Restore the hosts file from the newest backup
  cleanup                        Remove hosts entries and firewall chains
`)
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	cfg := config.Init()
	_ = logger.Init(cfg.LogPath)

	hostsMgr, err := hosts.NewManager(cfg.HostsPath, cfg.BackupDir, cfg.BackupKeep)
	if err != nil {
		fatal(err)
	}

	if args[0] == "cleanup" {
		run := firewall.ExecRunner(cfg.CommandTimeout)
		if err := hostsMgr.Clear(); err != nil {
			fatal(err)
		}
		if err := firewall.NewEnforcer(run, cfg.ChainName).Cleanup(); err != nil {
			fatal(err)
		}
		if err := firewall.NewRedirector(run, cfg.RedirectChain, cfg.BlockHTTPPort, cfg.BlockTLSPort).Cleanup(); err != nil {
			fatal(err)
		}
		fmt.Println(okStyle.Render("cleanup complete"))
		return
	}
	if args[0] == "restore-hosts" {
		if err := hostsMgr.Restore(); err != nil {
			fatal(err)
		}
		fmt.Println(okStyle.Render("hosts file restored"))
		return
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	updater := blacklist.NewUpdater(st, cfg.BlacklistURL, cfg.MaxRetries, cfg.RetryDelay)
	g := guard.New(st, hostsMgr, updater)
	if err := g.Bootstrap(); err != nil {
		fatal(err)
	}

	switch args[0] {
	case "status":
		cmdStatus(g, cfg)
	case "block":
		need(args, 2)
		added, err := g.BlockSite(args[1])
		if err != nil {
			fatal(err)
		}
		if added {
			fmt.Println(okStyle.Render("blocked " + args[1]))
		} else {
			fmt.Println(warnStyle.Render(args[1] + " was already blocked"))
		}
	case "unblock":
		need(args, 2)
		removed, err := g.UnblockSite(args[1])
		if err != nil {
			fatal(err)
		}
		if removed {
			fmt.Println(okStyle.Render("unblocked " + args[1]))
		} else {
			fmt.Println(warnStyle.Render(args[1] + " was not blocked"))
		}
	case "allow-for":
		need(args, 3)
		dur, err := time.ParseDuration(args[2])
		if err != nil {
			fatal(fmt.Errorf("invalid duration %q: %w", args[2], err))
		}
		exc, err := g.TemporaryUnblock(args[1], dur)
		if err != nil {
			fatal(err)
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("%s allowed until %s", exc.Domain, exc.ExpiresAt.Format("15:04:05"))))
	case "category":
		need(args, 3)
		var active bool
		switch args[2] {
		case "on":
			active = true
		case "off":
			active = false
		default:
			usage()
		}
		if err := g.SetCategoryActive(args[1], active); err != nil {
			fatal(err)
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("category %s %s", args[1], args[2])))
	case "categories":
		cmdCategories(st)
	case "schedule":
		need(args, 2)
		cmdSchedule(st, args[1:])
	case "limit":
		need(args, 2)
		minutes, err := strconv.Atoi(args[1])
		if err != nil {
			fatal(fmt.Errorf("invalid minutes %q", args[1]))
		}
		if err := st.SetDailyLimit(minutes); err != nil {
			fatal(err)
		}
		if minutes <= 0 {
			fmt.Println(okStyle.Render("daily limit disabled"))
		} else {
			fmt.Println(okStyle.Render(fmt.Sprintf("daily limit set to %d minutes", minutes)))
		}
	case "update":
		cmdUpdate(g, args)
	default:
		usage()
	}
}

func cmdStatus(g *guard.Guard, cfg config.AppConfig) {
	s, err := g.Status()
	if err != nil {
		fatal(err)
	}

	fmt.Println(titleStyle.Render("HomeGuard status"))
	printRow("protection", onOff(s.ProtectionActive))
	printRow("manual blocks", strconv.Itoa(s.ManualBlocks))
	printRow("active categories", strings.Join(s.ActiveCategories, ", "))
	printRow("blocked domains", strconv.Itoa(s.BlockedDomains))
	printRow("hosts entries", strconv.Itoa(s.HostsEntries))
	printRow("active exceptions", strconv.Itoa(s.ActiveExceptions))

	run := firewall.ExecRunner(cfg.CommandTimeout)
	if fs, err := firewall.NewEnforcer(run, cfg.ChainName).Status(); err == nil {
		printRow("internet restriction", fmt.Sprintf("%s (%d rules)", onOff(fs.Enabled), fs.RuleCount))
	}
	if rs, err := firewall.NewRedirector(run, cfg.RedirectChain, cfg.BlockHTTPPort, cfg.BlockTLSPort).Status(); err == nil {
		printRow("port redirection", fmt.Sprintf("%s (%d rules)", onOff(rs.Enabled), rs.RuleCount))
	}
}

func cmdCategories(st *store.Store) {
	cats, err := st.Categories(false)
	if err != nil {
		fatal(err)
	}
	fmt.Println(titleStyle.Render("Categories"))
	for _, c := range cats {
		state := "off"
		if c.Active {
			state = okStyle.Render("on")
		}
		fmt.Printf("  %-16s %-8s %s  %d domains\n", c.Slug, c.Source, state, c.DomainCount)
	}
}

func cmdSchedule(st *store.Store, args []string) {
	switch args[0] {
	case "add":
		if len(args) < 5 {
			usage()
		}
		days, err := parseDays(args[4])
		if err != nil {
			fatal(err)
		}
		sched, err := st.AddSchedule(args[1], args[2], args[3], days, true)
		if err != nil {
			fatal(err)
		}
		fmt.Println(okStyle.Render("added schedule " + sched.UID))
	case "list":
		scheds, err := st.Schedules(false)
		if err != nil {
			fatal(err)
		}
		fmt.Println(titleStyle.Render("Schedules"))
		for _, sc := range scheds {
			state := "inactive"
			if sc.Active {
				state = okStyle.Render("active")
			}
			fmt.Printf("  %s  %-16s %s-%s days=%s %s\n", sc.UID, sc.Name, sc.StartTime, sc.EndTime, sc.Days, state)
		}
	case "rm":
		if len(args) < 2 {
			usage()
		}
		if err := st.DeleteSchedule(args[1]); err != nil {
			fatal(err)
		}
		fmt.Println(okStyle.Render("deleted schedule " + args[1]))
	default:
		usage()
	}
}

func cmdUpdate(g *guard.Guard, args []string) {
	if len(args) >= 2 {
		n, err := g.UpdateBlacklist(args[1])
		if err != nil {
			fatal(err)
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("updated %s: %d domains", args[1], n)))
		return
	}
	counts, err := g.UpdateAllBlacklists()
	for slug, n := range counts {
		fmt.Println(okStyle.Render(fmt.Sprintf("updated %s: %d domains", slug, n)))
	}
	if err != nil {
		fatal(err)
	}
}

var dayNames = map[string]int{
	"mon": 0, "tue": 1, "wed": 2, "thu": 3, "fri": 4, "sat": 5, "sun": 6,
}

// parseDays accepts "mon,tue,fri" or "0,1,4" (Monday is 0).
func parseDays(v string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if n, ok := dayNames[part]; ok {
			out = append(out, n)
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("invalid day %q", part)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no days in %q", v)
	}
	return out, nil
}

func printRow(key, value string) {
	fmt.Printf("  %s %s\n", keyStyle.Render(fmt.Sprintf("%-20s", key+":")), value)
}

func onOff(b bool) string {
	if b {
		return okStyle.Render("enabled")
	}
	return warnStyle.Render("disabled")
}

func need(args []string, n int) {
	if len(args) < n {
		usage()
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
