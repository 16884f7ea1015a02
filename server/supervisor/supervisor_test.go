package supervisor

import (
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/shirou/gopsutil/v4/process"

	"mugen-arena/server/battle"
)

func TestArgsSingle(t *testing.T) {
	spec := battle.Spec{
		Mode:        battle.Single{P1: "kfm", P2: "suave"},
		Arena:       "stage0",
		Rounds:      2,
		ColorOffset: 5,
	}
	got := Args(spec, "chars")
	want := []string{
		"-rounds", "2",
		"-p1", "chars/kfm/kfm.def", "-p1.ai", "1",
		"-p2", "chars/suave/suave.def", "-p2.ai", "1",
		"-p2.color", "5",
		"-s", "stage0",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("args = %v\nwant %v", got, want)
	}
}

func TestArgsTeamSlotsAndLife(t *testing.T) {
	spec := battle.Spec{
		Mode: battle.Team{
			SideA: []string{"a1", "a2"},
			SideB: []string{"b1", "b2", "b3"},
		},
		Arena:       "ring/arena",
		Rounds:      1,
		ColorOffset: 0,
	}
	got := Args(spec, "chars")
	joined := " " + strings.Join(got, " ") + " "

	for _, frag := range []string{
		" -tmode1 simul ",
		" -tmode2 simul ",
		" -p1 " + "chars/a1/a1.def" + " ",
		" -p2 " + "chars/b1/b1.def" + " ",
		// a2 is the first side-A extra, odd slot 3; side-A faces 3 opponents
		// with 2 members, so its life scale is 150.
		" -p3 " + "chars/a2/a2.def" + " ",
		" -p3.life 150 ",
		// b2/b3 take even slots 4 and 6 at scale 100*2/3 = 66.
		" -p4 " + "chars/b2/b2.def" + " ",
		" -p4.life 66 ",
		" -p6 " + "chars/b3/b3.def" + " ",
		" -p6.life 66 ",
		" -s ring/arena ",
	} {
		if !strings.Contains(joined, frag) {
			t.Fatalf("args missing %q:\n%v", strings.TrimSpace(frag), got)
		}
	}

	if strings.Contains(joined, "-p5 ") {
		t.Fatalf("slot 5 assigned with no second side-A extra:\n%v", got)
	}
	if got[len(got)-2] != "-s" || got[len(got)-1] != "ring/arena" {
		t.Fatalf("arena selector not last: %v", got)
	}
}

func TestArgsTeamEvenSidesNoScaling(t *testing.T) {
	spec := battle.Spec{
		Mode: battle.Team{
			SideA: []string{"a1", "a2"},
			SideB: []string{"b1", "b2"},
		},
		Arena:  "stage0",
		Rounds: 2,
	}
	joined := " " + strings.Join(Args(spec, "chars"), " ") + " "
	if !strings.Contains(joined, " -p3.life 100 ") || !strings.Contains(joined, " -p4.life 100 ") {
		t.Fatalf("even sides should scale to 100: %v", joined)
	}
}

func TestFindByNameCaseInsensitive(t *testing.T) {
	// The current test binary is always in the table under its own name.
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		t.Skipf("process table unavailable: %v", err)
	}
	name, err := self.Name()
	if err != nil {
		t.Skipf("cannot resolve own process name: %v", err)
	}
	found := false
	for _, p := range findByName([]string{strings.ToUpper(name)}) {
		if p.Pid == self.Pid {
			found = true
		}
	}
	if !found {
		t.Fatalf("pid %d not found via uppercase name %q", self.Pid, name)
	}
}
