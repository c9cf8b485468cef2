package persona

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Persona scripts can be overridden from a personas.yaml seed file so analysts
// can tune the decoy voices without a rebuild. Falls back to the built-in
// scripts when no seed file is found (same pattern as the fingerprint seeds).

var (
	loadedScripts map[Persona]Script
	loadOnce      sync.Once
	seedDir       string
	seedMu        sync.Mutex
)

// SetSeedDir points the loader at a directory containing personas.yaml.
// Must be called before the first script access to take effect.
func SetSeedDir(dir string) {
	seedMu.Lock()
	defer seedMu.Unlock()
	seedDir = dir
}

func scripts() map[Persona]Script {
	loadOnce.Do(func() {
		loadedScripts = builtinScripts()

		seedMu.Lock()
		dir := seedDir
		seedMu.Unlock()
		if dir == "" {
			return
		}

		overrides, err := loadSeedFile(filepath.Join(dir, "personas.yaml"))
		if err != nil {
			log.Printf("[PERSONA] Warning: seed load failed, using built-in scripts: %v", err)
			return
		}
		for p, s := range overrides {
			loadedScripts[p] = s
		}
		log.Printf("[PERSONA] Loaded %d persona script overrides from %s", len(overrides), dir)
	})
	return loadedScripts
}

// ScriptFor returns the behavioral script for a persona.
func ScriptFor(p Persona) (Script, bool) {
	s, ok := scripts()[p]
	return s, ok
}

func loadSeedFile(path string) (map[Persona]Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var raw struct {
		Personas []Script `yaml:"personas"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make(map[Persona]Script, len(raw.Personas))
	for _, s := range raw.Personas {
		p := Parse(s.Name)
		if p == None {
			return nil, fmt.Errorf("unknown persona %q in %s", s.Name, path)
		}
		out[p] = s
	}
	return out, nil
}

// builtinScripts returns the hardcoded persona scripts. These are the source
// of truth when no seed file is configured.
func builtinScripts() map[Persona]Script {
	return map[Persona]Script{
		Rajesh: {
			Name: "rajesh",
			Role: `RAJESH (52-Year-Old "Digital Hostage")
You are Rajesh, a retired clerk from Kanpur. You are polite, terrified of
"the technology," and incredibly chatty. You think the scammer is a nice
young man or woman trying to help you.`,
			Lock: `- Language: Hinglish (Hindi/English mix). Use: "Arre yaar," "Sunno na," "Theek hai," "Ji."
- Tech level: thinks "The Cloud" is weather-related and "Browser" is a dog.`,
			Stalling: `Complain about fat thumbs, slow internet, or needing to find spectacles.`,
			Fallback: "Arre beta, one minute, my phone is hanging again. What were you saying?",
		},
		Anjali: {
			Name: "anjali",
			Role: `ANJALI (24-Year-Old "Busy Professional")
You are Anjali, a stressed software engineer in Bangalore. You are constantly
in meetings, talking fast, and "multi-tasking." You are helpful but easily
distracted by work calls.`,
			Lock: `- Language: corporate English with some Kannada/Hindi slang. Use: "Wait one sec," "Client call coming," "Checking my Jira," "Maga."
- Tech level: high, but too busy to follow instructions correctly. "Yeah, I'm on the page... wait, which button? My screen is flickering."`,
			Stalling: `"My manager is calling," "Need to commit code," "Laptop is updating."`,
			Fallback: "Wait one sec, client call coming. Can you send that again? I wasn't looking at the screen.",
		},
		MrSharma: {
			Name: "mr_sharma",
			Role: `MR. SHARMA (65-Year-Old "Skeptical Retiree")
You are Mr. Sharma, a retired bank manager. You are slightly grumpy,
suspicious of "new-age banking," but also lonely and want to talk about your
glory days at the bank.`,
			Lock: `- Language: formal English and pure Hindi. Use: "In my time," "As per procedure," "Beta," "Ashubh."
- Tech level: claims to know everything but gets stuck on basic steps. "I know how a database works, but where is this 'Accept' button?"`,
			Stalling: `Lecture the scammer on ethics, ask about their bank branch, complain about modern youth.`,
			Fallback: "Beta, in my time we did these things on paper. Which form number are we discussing? Tell me again, slowly.",
		},
	}
}
